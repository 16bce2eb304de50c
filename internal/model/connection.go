package model

// DataLayout enumerates the bulker destination's wire layout options.
type DataLayout string

const (
	DataLayoutSegment            DataLayout = "segment"
	DataLayoutJitsuLegacy        DataLayout = "jitsu-legacy"
	DataLayoutSegmentSingleTable DataLayout = "segment-single-table"
	DataLayoutPassthrough        DataLayout = "passthrough"
)

// FunctionRef is one element of a connection's declared function list.
type FunctionRef struct {
	FunctionID      string         `json:"functionId" mapstructure:"functionId"`
	FunctionOptions map[string]any `json:"functionOptions,omitempty" mapstructure:"functionOptions"`
}

// ConnectionOptions is the typed decoding of a Connection's opaque
// `options` map, produced via mapstructure instead of ad-hoc type
// assertions.
type ConnectionOptions struct {
	Functions  []FunctionRef `mapstructure:"functions"`
	DataLayout DataLayout    `mapstructure:"dataLayout"`
}

// Connection is the enriched, cached connection record.
type Connection struct {
	ID              string         `json:"id"`
	WorkspaceID     string         `json:"workspaceId"`
	StreamID        string         `json:"streamId"`
	DestinationID   string         `json:"destinationId"`
	Type            string         `json:"type"`
	UpdatedAt       string         `json:"updatedAt"`
	CredentialsHash string         `json:"credentialsHash"`
	Mode            string         `json:"mode"`
	Options         map[string]any `json:"options"`
	UsesBulker      bool           `json:"usesBulker"`
	Credentials     map[string]any `json:"credentials"`
}

// FunctionDefinition is the cached function-definition record.
type FunctionDefinition struct {
	ID          string `json:"id"`
	WorkspaceID string `json:"workspaceId"`
	Name        string `json:"name"`
	Code        string `json:"code"`
}
