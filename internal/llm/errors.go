package llm

import (
	"errors"
	"fmt"
)

var (
	ErrMissingAPIKey  = errors.New("llm api key not configured")
	ErrEmptyResponse  = errors.New("llm empty response")
	ErrInvalidBaseURL = errors.New("llm base url must be an absolute http(s) url")
)

// ConfigurationError indica que falta configuracion para llamar al endpoint.
type ConfigurationError struct {
	Err error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("llm configuration: %v", e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// TransportError cubre fallos de red y respuestas no exitosas.
// Body lleva el detalle devuelto por el endpoint.
type TransportError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *TransportError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Err != nil:
		return fmt.Sprintf("llm transport: status=%d: %v", e.StatusCode, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("llm transport: status=%d: %s", e.StatusCode, e.Body)
	case e.Err != nil:
		return fmt.Sprintf("llm transport: %v", e.Err)
	default:
		return "llm transport error"
	}
}

func (e *TransportError) Unwrap() error { return e.Err }
