// Package sequel holds the shared types for the sequel Google Cloud
// resource browser: resource records, cache key composition, the
// normalised API error shape, and raw payload handling.
package sequel

// Kind identifies a resource type rendered in the browser tree.
type Kind string

const (
	KindProject        Kind = "project"
	KindInstanceGroup  Kind = "instance-group"
	KindInstance       Kind = "instance"
	KindCluster        Kind = "gke-cluster"
	KindNodePool       Kind = "gke-nodepool"
	KindSQLInstance    Kind = "sql-instance"
	KindDNSZone        Kind = "dns-zone"
	KindDNSRecord      Kind = "dns-record"
	KindServiceAccount Kind = "service-account"
	KindSecret         Kind = "secret"
)

// Kinds lists all resource kinds loaded under a project, in display order.
var Kinds = []Kind{
	KindInstanceGroup,
	KindInstance,
	KindCluster,
	KindNodePool,
	KindSQLInstance,
	KindDNSZone,
	KindServiceAccount,
	KindSecret,
}

// Resource is one record in the browser tree. The typed fields cover what
// the tree renders; Extra carries kind-specific display fields and Payload
// keeps the raw API document for the detail view.
type Resource struct {
	Kind     Kind              `json:"kind"`
	Name     string            `json:"name"`
	ID       string            `json:"id,omitempty"`
	Project  string            `json:"project,omitempty"`
	Location string            `json:"location,omitempty"` // zone or region, empty for global
	Status   string            `json:"status,omitempty"`
	Labels   map[string]string `json:"labels,omitempty"`
	Extra    map[string]string `json:"extra,omitempty"`
	Payload  *Payload          `json:"-"`
}

// UID returns a stable identifier for the resource within one process,
// unique across kinds and scopes.
func (r Resource) UID() string {
	return string(NewKey(r.Kind, "res", r.Project, r.Location, r.Name))
}
