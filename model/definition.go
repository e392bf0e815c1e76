package model

import "time"

// ProcessDefinition is the immutable identity of a process. Versions of the
// process graph are published against it.
type ProcessDefinition struct {
	ID     string `json:"id"`
	Tenant string `json:"tenant,omitempty"`
	Key    string `json:"key"`
	Name   string `json:"name,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// ProcessVersion is one immutable, numbered revision of a process graph.
// At most one version per definition is published as the default execution
// target at a time.
type ProcessVersion struct {
	DefinitionID string `json:"definition_id"`
	Number       int    `json:"number"`

	Model *ProcessModel `json:"model"`

	Published bool      `json:"published"`
	CreatedAt time.Time `json:"created_at"`
}
