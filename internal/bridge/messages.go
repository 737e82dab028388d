package bridge

import "encoding/json"

// Message is one inbound client frame: a command name plus its payload.
type Message struct {
	Command string          `json:"command"`
	Data    json.RawMessage `json:"data"`
}

// connectRequest is the payload of a "new_connection" command.
type connectRequest struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// commandRequest is the payload of a "send_command" command.
type commandRequest struct {
	Text string `json:"text"`
}

// outputMessage is the outbound frame carrying shell output.
type outputMessage struct {
	Command string     `json:"command"`
	Data    outputData `json:"data"`
}

type outputData struct {
	Output string `json:"output"`
}

// errorMessage is the outbound frame reporting a structured error.
type errorMessage struct {
	Command string    `json:"command"`
	Data    errorData `json:"data"`
}

type errorData struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func newOutputMessage(output string) outputMessage {
	return outputMessage{Command: "receive_output", Data: outputData{Output: output}}
}

func newErrorMessage(code int, message string) errorMessage {
	return errorMessage{Command: "error", Data: errorData{Code: code, Message: message}}
}
