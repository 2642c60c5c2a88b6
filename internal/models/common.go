package models

// EnvironmentVariable represents an environment variable passed to an app process
type EnvironmentVariable struct {
	Name  string `json:"name" yaml:"name"`
	Value string `json:"value" yaml:"value"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error      string `json:"error"`
	Message    string `json:"message,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`
}

// Caller is the resolved identity of an API request
type Caller struct {
	Token string
	Admin bool
}
