package subscription

import (
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/wso2/product-microgateway-sub011/model"
)

// APIStore holds the deployed APIs and resolves requests to an API and
// resource. Lookups happen on every check, updates only when the control
// plane redeploys, so reads take an RLock.
type APIStore struct {
	mu   sync.RWMutex
	apis map[string]*model.API // by context:version
}

// NewAPIStore returns an empty store.
func NewAPIStore() *APIStore {
	return &APIStore{apis: map[string]*model.API{}}
}

func apiKey(context, version string) string {
	return context + ":" + version
}

// SetAPIs replaces all deployed APIs.
func (s *APIStore) SetAPIs(apis []*model.API) {
	m := make(map[string]*model.API, len(apis))
	for _, a := range apis {
		m[apiKey(a.Context, a.Version)] = a
	}
	s.mu.Lock()
	s.apis = m
	s.mu.Unlock()
	log.Infof("deployed %d APIs", len(m))
}

// AddOrUpdateAPI deploys or redeploys one API.
func (s *APIStore) AddOrUpdateAPI(a *model.API) {
	s.mu.Lock()
	s.apis[apiKey(a.Context, a.Version)] = a
	s.mu.Unlock()
	log.Infof("deployed API %s %s", a.Name, a.Version)
}

// DeleteAPI undeploys one API.
func (s *APIStore) DeleteAPI(context, version string) {
	s.mu.Lock()
	delete(s.apis, apiKey(context, version))
	s.mu.Unlock()
}

// Match resolves a request path to the deployed API with the longest
// matching context and the resource matching the remainder. A nil
// resource with a non-nil API means the API matched but the operation
// does not exist.
func (s *APIStore) Match(path, method string) (*model.API, *model.Resource) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var api *model.API
	longest := -1
	for _, a := range s.apis {
		prefix := strings.TrimSuffix(a.Context, "/") + "/" + a.Version
		if pathHasPrefix(path, prefix) && len(prefix) > longest {
			api = a
			longest = len(prefix)
		}
		// contexts that already embed the version
		if pathHasPrefix(path, a.Context) && len(a.Context) > longest {
			api = a
			longest = len(a.Context)
		}
	}
	if api == nil {
		return nil, nil
	}

	remainder := path[longest:]
	if remainder == "" {
		remainder = "/"
	}
	for _, r := range api.Resources {
		if r.MatchesMethod(method) && matchTemplate(remainder, r.Path) {
			return api, r
		}
	}
	return api, nil
}

func pathHasPrefix(path, prefix string) bool {
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	return len(path) == len(prefix) || path[len(prefix)] == '/' || path[len(prefix)] == '?'
}

// matchTemplate matches a path against a resource template. Template
// segments of the form {name} match any single segment, a trailing /*
// matches any remainder.
func matchTemplate(path, template string) bool {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	path = strings.TrimSuffix(path, "/")
	template = strings.TrimSuffix(template, "/")
	if template == "/*" || template == "*" {
		return true
	}

	ps := strings.Split(strings.TrimPrefix(path, "/"), "/")
	ts := strings.Split(strings.TrimPrefix(template, "/"), "/")
	for i, t := range ts {
		if t == "*" && i == len(ts)-1 {
			return true
		}
		if i >= len(ps) {
			return false
		}
		if strings.HasPrefix(t, "{") && strings.HasSuffix(t, "}") {
			continue
		}
		if t != ps[i] {
			return false
		}
	}
	return len(ps) == len(ts)
}
