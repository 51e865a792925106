package schema

import _ "embed"

// SidecarV1Schema contains the JSON schema for sidecar manifests.
//
//go:embed sidecar.v1.json
var SidecarV1Schema []byte
