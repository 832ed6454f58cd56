package protocol

import "encoding/json"

// Client-to-server frame types.
const (
	TypeHeartbeat           = "heartbeat"
	TypeSubscribeMonitor    = "subscribe_monitor"
	TypeExecuteDiagram      = "execute_diagram"
	TypePauseNode           = "pause_node"
	TypeResumeNode          = "resume_node"
	TypeSkipNode            = "skip_node"
	TypeAbortExecution      = "abort_execution"
	TypeInteractiveResponse = "interactive_response"
)

// Server-to-client frame types.
const (
	TypeConnected                   = "connected"
	TypeHeartbeatAck                = "heartbeat_ack"
	TypeSubscribed                  = "subscribed"
	TypeExecutionStarted            = "execution_started"
	TypeNodeProgress                = "node_progress"
	TypeNodePaused                  = "node_paused"
	TypeNodeResumed                 = "node_resumed"
	TypeNodeSkipRequested           = "node_skip_requested"
	TypeExecutionAbortRequested     = "execution_abort_requested"
	TypeExecutionAborted            = "execution_aborted"
	TypeExecutionComplete           = "execution_complete"
	TypeInteractivePrompt           = "interactive_prompt"
	TypeInteractiveResponseReceived = "interactive_response_received"
	TypeError                       = "error"
)

// ExecutionEventTypes lists the server frames that describe execution
// progress, in the order they typically occur. The recorder subscribes
// to exactly this set.
func ExecutionEventTypes() []string {
	return []string{
		TypeExecutionStarted,
		TypeNodeProgress,
		TypeNodePaused,
		TypeNodeResumed,
		TypeNodeSkipRequested,
		TypeExecutionAbortRequested,
		TypeExecutionAborted,
		TypeExecutionComplete,
	}
}

// ExecutionEvent is the common shape of execution progress frames.
type ExecutionEvent struct {
	Type        string          `json:"type"`
	ExecutionID string          `json:"execution_id"`
	NodeID      string          `json:"node_id,omitempty"`
	Status      string          `json:"status,omitempty"`
	Message     string          `json:"message,omitempty"`
	Timestamp   string          `json:"timestamp,omitempty"` // ISO 8601
	Data        json.RawMessage `json:"data,omitempty"`
}

// ConnectedMsg is the greeting the server sends after accepting a
// connection.
type ConnectedMsg struct {
	Type     string `json:"type"`
	ClientID string `json:"client_id"`
}

// SubscribedMsg acknowledges a monitor subscription.
type SubscribedMsg struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
}

// InteractivePromptMsg asks the operator for input mid-execution.
type InteractivePromptMsg struct {
	Type        string `json:"type"`
	ExecutionID string `json:"execution_id"`
	NodeID      string `json:"node_id"`
	Prompt      string `json:"prompt"`
}

// ErrorMsg reports a server-side failure.
type ErrorMsg struct {
	Type        string `json:"type"`
	Message     string `json:"message"`
	ExecutionID string `json:"execution_id,omitempty"`
}
