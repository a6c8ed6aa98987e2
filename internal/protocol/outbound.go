package protocol

import "encoding/json"

// RegisterAgent mirrors the flat registration fields for hubs that expect
// the agent descriptor nested.
type RegisterAgent struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Type         string   `json:"type"`
	Role         string   `json:"role"`
	Capabilities []string `json:"capabilities"`
}

type RegisterFrame struct {
	Type            string         `json:"type"`
	ResumptionToken string         `json:"resumptionToken,omitempty"`
	Environment     string         `json:"environment"`
	Name            string         `json:"name"`
	Role            string         `json:"role"`
	Capabilities    []string       `json:"capabilities"`
	WorkspaceID     string         `json:"workspaceId,omitempty"`
	Agent           *RegisterAgent `json:"agent,omitempty"`
}

type simpleFrame struct {
	Type string `json:"type"`
}

func NewRegisterFrame(clientID, token, name, environment, role string, caps []string, workspaceID string) RegisterFrame {
	if caps == nil {
		caps = []string{}
	}
	return RegisterFrame{
		Type:            "register",
		ResumptionToken: token,
		Environment:     environment,
		Name:            name,
		Role:            role,
		Capabilities:    caps,
		WorkspaceID:     workspaceID,
		Agent: &RegisterAgent{
			ID:           clientID,
			Name:         name,
			Type:         "observer",
			Role:         role,
			Capabilities: caps,
		},
	}
}

func Encode(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ChangesFrame encodes c as a "changes" frame carrying only the collections
// the hub reported.
func ChangesFrame(c Changes) (string, error) {
	frame := map[string]any{
		"type":    string(KindChanges),
		"changed": c.Changed,
		"version": c.Version,
	}
	for key := range c.Present {
		switch key {
		case "agents":
			frame[key] = c.Snapshot.Agents
		case "locks":
			frame[key] = c.Snapshot.Locks
		case "intents":
			frame[key] = c.Snapshot.Intents
		case "files":
			frame[key] = c.Snapshot.Files
		case "workQueue":
			frame[key] = c.Snapshot.WorkQueue
		case "target":
			frame[key] = c.Snapshot.Target
		}
	}
	return Encode(frame)
}

func HeartbeatFrame() string    { return `{"type":"heartbeat"}` }
func GetBlueprintFrame() string { return `{"type":"get_blueprint"}` }
func SubscribeFrame() string    { return `{"type":"subscribe"}` }

// FrameType returns the type tag of an outbound frame, or "".
func FrameType(text string) string {
	var f simpleFrame
	if err := json.Unmarshal([]byte(text), &f); err != nil {
		return ""
	}
	return f.Type
}
