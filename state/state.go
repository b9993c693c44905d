// Package state holds the in-memory view of everything loaded so far:
// the project list plus, per project, the most recent load result for
// each resource kind. Loads fan out across kinds concurrently and a
// failure in one kind never discards results from the others.
package state

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/zeebo/blake3"
	"golang.org/x/sync/errgroup"

	sequel "github.com/dan-elliott-appneta/sequel"
)

// DefaultConcurrency bounds how many kinds are listed at once during a
// project load.
const DefaultConcurrency = 4

// Client is the subset of the gcloud client the store drives.
type Client interface {
	ListProjects(ctx context.Context) ([]sequel.Resource, error)
	ListInstanceGroups(ctx context.Context, project, zone string) ([]sequel.Resource, error)
	ListInstances(ctx context.Context, project, zone string) ([]sequel.Resource, error)
	ListClusters(ctx context.Context, project string) ([]sequel.Resource, error)
	ListNodePools(ctx context.Context, project, location, cluster string) ([]sequel.Resource, error)
	ListSQLInstances(ctx context.Context, project string) ([]sequel.Resource, error)
	ListDNSZones(ctx context.Context, project string) ([]sequel.Resource, error)
	ListDNSRecords(ctx context.Context, project, zone string) ([]sequel.Resource, error)
	ListServiceAccounts(ctx context.Context, project string) ([]sequel.Resource, error)
	ListSecrets(ctx context.Context, project string) ([]sequel.Resource, error)
	Invalidate(key sequel.Key)
	InvalidateProject(project string) int
}

// LoadResult is the outcome of listing one resource kind.
type LoadResult struct {
	Kind      sequel.Kind
	Resources []sequel.Resource
	Err       error
	Changed   bool
	Duration  time.Duration
	LoadedAt  time.Time
}

// Config configures a Store.
type Config struct {
	Client      Client
	Concurrency int
	Logger      *slog.Logger
}

// Store is safe for concurrent use.
type Store struct {
	client      Client
	concurrency int
	logger      *slog.Logger
	now         func() time.Time

	mu           sync.RWMutex
	projects     []sequel.Resource
	byProject    map[string]map[sequel.Kind]LoadResult
	fingerprints map[sequel.Key]sequel.Fingerprint
}

// New builds a Store around a client.
func New(cfg Config) *Store {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Store{
		client:       cfg.Client,
		concurrency:  cfg.Concurrency,
		logger:       cfg.Logger,
		now:          time.Now,
		byProject:    make(map[string]map[sequel.Kind]LoadResult),
		fingerprints: make(map[sequel.Key]sequel.Fingerprint),
	}
}

// projectKinds are the kinds loaded eagerly for a project. Instances,
// node pools and DNS records hang off a parent resource and are loaded
// on demand instead.
var projectKinds = []sequel.Kind{
	sequel.KindInstanceGroup,
	sequel.KindCluster,
	sequel.KindSQLInstance,
	sequel.KindDNSZone,
	sequel.KindServiceAccount,
	sequel.KindSecret,
}

// LoadProjects refreshes the project list. With force set the cached
// entry is dropped first so the list is re-fetched from the API.
func (s *Store) LoadProjects(ctx context.Context, force bool) (LoadResult, error) {
	if force {
		s.client.Invalidate(sequel.ListKey(sequel.KindProject))
	}

	start := s.now()
	projects, err := s.client.ListProjects(ctx)
	res := LoadResult{
		Kind:     sequel.KindProject,
		Duration: s.now().Sub(start),
		LoadedAt: s.now(),
	}
	if err != nil {
		res.Err = err
		return res, err
	}
	res.Resources = projects

	key := sequel.ListKey(sequel.KindProject)
	fp := listFingerprint(projects)

	s.mu.Lock()
	res.Changed = s.fingerprints[key] != fp
	s.fingerprints[key] = fp
	s.projects = projects
	s.mu.Unlock()

	s.logger.Info("loaded projects",
		"count", len(projects),
		"changed", res.Changed,
		"duration", res.Duration)

	return res, nil
}

// LoadProject lists every eager resource kind for a project
// concurrently. Kinds fail independently: the returned map always has
// one entry per kind, with Err set on the ones that could not be
// listed. The only overall error is the context's.
func (s *Store) LoadProject(ctx context.Context, project string, force bool) (map[sequel.Kind]LoadResult, error) {
	if force {
		dropped := s.client.InvalidateProject(project)
		s.logger.Debug("invalidated project cache entries", "project", project, "dropped", dropped)
	}

	results := make([]LoadResult, len(projectKinds))

	g := &errgroup.Group{}
	g.SetLimit(s.concurrency)
	for i, kind := range projectKinds {
		g.Go(func() error {
			results[i] = s.loadKind(ctx, project, kind)
			return nil
		})
	}
	_ = g.Wait()

	byKind := make(map[sequel.Kind]LoadResult, len(results))
	for _, res := range results {
		byKind[res.Kind] = res
	}

	s.mu.Lock()
	s.byProject[project] = byKind
	s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return byKind, err
	}
	return byKind, nil
}

func (s *Store) loadKind(ctx context.Context, project string, kind sequel.Kind) LoadResult {
	start := s.now()

	var (
		resources []sequel.Resource
		err       error
	)
	switch kind {
	case sequel.KindInstanceGroup:
		resources, err = s.client.ListInstanceGroups(ctx, project, "")
	case sequel.KindCluster:
		resources, err = s.client.ListClusters(ctx, project)
	case sequel.KindSQLInstance:
		resources, err = s.client.ListSQLInstances(ctx, project)
	case sequel.KindDNSZone:
		resources, err = s.client.ListDNSZones(ctx, project)
	case sequel.KindServiceAccount:
		resources, err = s.client.ListServiceAccounts(ctx, project)
	case sequel.KindSecret:
		resources, err = s.client.ListSecrets(ctx, project)
	}

	res := LoadResult{
		Kind:      kind,
		Resources: resources,
		Err:       err,
		Duration:  s.now().Sub(start),
		LoadedAt:  s.now(),
	}

	if err != nil {
		s.logger.Warn("failed to load resources",
			"project", project,
			"kind", string(kind),
			"error", err)
		return res
	}

	key := sequel.ListKey(kind, project)
	fp := listFingerprint(resources)

	s.mu.Lock()
	res.Changed = s.fingerprints[key] != fp
	s.fingerprints[key] = fp
	s.mu.Unlock()

	s.logger.Debug("loaded resources",
		"project", project,
		"kind", string(kind),
		"count", len(resources),
		"changed", res.Changed,
		"duration", res.Duration)

	return res
}

// LoadChildren lists the child resources of one parent, such as the
// instances of an instance group or the record sets of a DNS zone.
func (s *Store) LoadChildren(ctx context.Context, parent sequel.Resource) (LoadResult, error) {
	start := s.now()

	var (
		kind      sequel.Kind
		resources []sequel.Resource
		err       error
	)
	switch parent.Kind {
	case sequel.KindInstanceGroup:
		kind = sequel.KindInstance
		resources, err = s.client.ListInstances(ctx, parent.Project, parent.Location)
	case sequel.KindCluster:
		kind = sequel.KindNodePool
		resources, err = s.client.ListNodePools(ctx, parent.Project, parent.Location, parent.Name)
	case sequel.KindDNSZone:
		kind = sequel.KindDNSRecord
		resources, err = s.client.ListDNSRecords(ctx, parent.Project, parent.Name)
	default:
		return LoadResult{Kind: parent.Kind}, nil
	}

	res := LoadResult{
		Kind:      kind,
		Resources: resources,
		Err:       err,
		Duration:  s.now().Sub(start),
		LoadedAt:  s.now(),
	}
	if err != nil {
		return res, err
	}
	return res, nil
}

// Projects returns the most recently loaded project list.
func (s *Store) Projects() []sequel.Resource {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.projects
}

// Result returns the last load result for a kind within a project.
func (s *Store) Result(project string, kind sequel.Kind) (LoadResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byKind, ok := s.byProject[project]
	if !ok {
		return LoadResult{}, false
	}
	res, ok := byKind[kind]
	return res, ok
}

// Resources returns the resources last loaded for a kind within a
// project, or nil when that kind has not been loaded or failed.
func (s *Store) Resources(project string, kind sequel.Kind) []sequel.Resource {
	res, ok := s.Result(project, kind)
	if !ok || res.Err != nil {
		return nil
	}
	return res.Resources
}

// listFingerprint digests the identity and payload fingerprint of each
// resource in order, so any addition, removal, reorder or content
// change flips the digest.
func listFingerprint(resources []sequel.Resource) sequel.Fingerprint {
	h := blake3.New()
	for _, r := range resources {
		h.WriteString(r.UID())
		h.WriteString("\x00")
		if r.Payload != nil {
			fp := r.Payload.Fingerprint()
			h.Write(fp[:])
		}
		h.WriteString("\x00")
	}

	var fp sequel.Fingerprint
	copy(fp[:], h.Sum(nil))
	return fp
}
