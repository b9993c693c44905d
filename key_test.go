package sequel

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewKey(t *testing.T) {
	tests := []struct {
		name  string
		kind  Kind
		verb  string
		parts []string
		want  string
	}{
		{
			name: "no parts",
			kind: KindProject,
			verb: "list",
			want: "project:list",
		},
		{
			name:  "project scope",
			kind:  KindCluster,
			verb:  "list",
			parts: []string{"my-project"},
			want:  "gke-cluster:list:my-project",
		},
		{
			name:  "empty part normalised",
			kind:  KindInstanceGroup,
			verb:  "list",
			parts: []string{"my-project", ""},
			want:  "instance-group:list:my-project:all",
		},
		{
			name:  "zone scope",
			kind:  KindInstanceGroup,
			verb:  "list",
			parts: []string{"my-project", "europe-west1-b"},
			want:  "instance-group:list:my-project:europe-west1-b",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, NewKey(tt.kind, tt.verb, tt.parts...).String())
		})
	}
}

func TestKeyHelpers(t *testing.T) {
	require.Equal(t, Key("secret:list:p1"), ListKey(KindSecret, "p1"))
	require.Equal(t, Key("secret:get:p1:s1"), GetKey(KindSecret, "p1", "s1"))
}

func TestKeyPrefix(t *testing.T) {
	key := ListKey(KindInstanceGroup, "my-project", "europe-west1-b")

	require.True(t, key.Prefix(KindInstanceGroup, "list", "my-project"))
	require.True(t, key.Prefix(KindInstanceGroup, "list"))
	require.False(t, key.Prefix(KindInstanceGroup, "list", "other-project"))
	require.False(t, key.Prefix(KindCluster, "list", "my-project"))
	require.False(t, key.Prefix(KindInstanceGroup, "get", "my-project"))

	// Segment-aligned: a scope is never a string prefix of a longer one.
	other := ListKey(KindInstanceGroup, "my-project-staging")
	require.False(t, other.Prefix(KindInstanceGroup, "list", "my-project"))
	require.True(t, ListKey(KindInstanceGroup, "my-project").Prefix(KindInstanceGroup, "list", "my-project"))
}

func TestKeyScope(t *testing.T) {
	require.Equal(t, "p1", ListKey(KindCluster, "p1").Scope())
	require.Equal(t, "p1", ListKey(KindDNSRecord, "p1", "zone-a").Scope())
	require.Equal(t, "p1", GetKey(KindSecret, "p1", "s1").Scope())
	require.Equal(t, "", ListKey(KindProject).Scope())
}

func TestResourceUID(t *testing.T) {
	a := Resource{Kind: KindInstance, Project: "p1", Location: "us-east1-c", Name: "web-1"}
	b := Resource{Kind: KindInstance, Project: "p1", Location: "us-east1-c", Name: "web-2"}
	c := Resource{Kind: KindSecret, Project: "p1", Name: "web-1"}

	require.NotEqual(t, a.UID(), b.UID())
	require.NotEqual(t, a.UID(), c.UID())
	require.Equal(t, a.UID(), Resource{Kind: KindInstance, Project: "p1", Location: "us-east1-c", Name: "web-1"}.UID())
}
