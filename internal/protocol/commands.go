package protocol

import "encoding/json"

// HeartbeatCmd keeps the connection alive; the server answers with a
// heartbeat_ack frame.
type HeartbeatCmd struct {
	Type string `json:"type"`
}

// Heartbeat builds a heartbeat frame.
func Heartbeat() HeartbeatCmd {
	return HeartbeatCmd{Type: TypeHeartbeat}
}

// SubscribeMonitorCmd subscribes the connection to all execution
// monitoring events.
type SubscribeMonitorCmd struct {
	Type string `json:"type"`
}

// SubscribeMonitor builds the monitor subscription frame.
func SubscribeMonitor() SubscribeMonitorCmd {
	return SubscribeMonitorCmd{Type: TypeSubscribeMonitor}
}

// ExecuteDiagramCmd requests execution of a diagram.
type ExecuteDiagramCmd struct {
	Type    string          `json:"type"`
	Diagram json.RawMessage `json:"diagram"`
	Options map[string]any  `json:"options,omitempty"`
}

// ExecuteDiagram builds an execution request.
func ExecuteDiagram(diagram json.RawMessage, options map[string]any) ExecuteDiagramCmd {
	return ExecuteDiagramCmd{
		Type:    TypeExecuteDiagram,
		Diagram: diagram,
		Options: options,
	}
}

// NodeControlCmd targets a single node within a running execution.
type NodeControlCmd struct {
	Type        string `json:"type"`
	ExecutionID string `json:"execution_id"`
	NodeID      string `json:"node_id"`
}

// PauseNode builds a pause request for a node.
func PauseNode(executionID, nodeID string) NodeControlCmd {
	return NodeControlCmd{Type: TypePauseNode, ExecutionID: executionID, NodeID: nodeID}
}

// ResumeNode builds a resume request for a paused node.
func ResumeNode(executionID, nodeID string) NodeControlCmd {
	return NodeControlCmd{Type: TypeResumeNode, ExecutionID: executionID, NodeID: nodeID}
}

// SkipNode builds a skip request for a node.
func SkipNode(executionID, nodeID string) NodeControlCmd {
	return NodeControlCmd{Type: TypeSkipNode, ExecutionID: executionID, NodeID: nodeID}
}

// AbortExecutionCmd aborts a running execution.
type AbortExecutionCmd struct {
	Type        string `json:"type"`
	ExecutionID string `json:"execution_id"`
}

// AbortExecution builds an abort request.
func AbortExecution(executionID string) AbortExecutionCmd {
	return AbortExecutionCmd{Type: TypeAbortExecution, ExecutionID: executionID}
}

// InteractiveResponseCmd answers an interactive prompt.
type InteractiveResponseCmd struct {
	Type        string `json:"type"`
	ExecutionID string `json:"execution_id"`
	NodeID      string `json:"node_id"`
	Response    string `json:"response"`
}

// InteractiveResponse builds a prompt answer.
func InteractiveResponse(executionID, nodeID, response string) InteractiveResponseCmd {
	return InteractiveResponseCmd{
		Type:        TypeInteractiveResponse,
		ExecutionID: executionID,
		NodeID:      nodeID,
		Response:    response,
	}
}
