package canvas

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	ferrors "github.com/randalmurphal/flowdeploy/pkg/flowdeploy/errors"
)

// DefaultTimeout bounds a single REST call when no timeout is configured.
const DefaultTimeout = 30 * time.Second

// maxErrorMessage caps how much of an error body is kept in HTTPError.
const maxErrorMessage = 512

// RESTClient implements Client against the engine's REST API.
// It is safe for concurrent use.
type RESTClient struct {
	baseURL    string
	token      string
	clientID   string
	userAgent  string
	httpClient *http.Client
	logger     *slog.Logger
}

// Compile-time interface check.
var _ Client = (*RESTClient)(nil)

// RESTOption configures a RESTClient.
type RESTOption func(*RESTClient)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(hc *http.Client) RESTOption {
	return func(c *RESTClient) {
		c.httpClient = hc
	}
}

// WithToken sets the bearer token sent with every request.
func WithToken(token string) RESTOption {
	return func(c *RESTClient) {
		c.token = token
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) RESTOption {
	return func(c *RESTClient) {
		c.httpClient = &http.Client{Timeout: d}
	}
}

// WithClientID sets the client id recorded in revisions.
// Default: a random UUID per client.
func WithClientID(id string) RESTOption {
	return func(c *RESTClient) {
		c.clientID = id
	}
}

// WithRESTLogger sets the logger for request diagnostics.
func WithRESTLogger(logger *slog.Logger) RESTOption {
	return func(c *RESTClient) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewRESTClient creates a client for the API rooted at baseURL,
// e.g. "https://engine:8443/nifi-api".
func NewRESTClient(baseURL string, opts ...RESTOption) *RESTClient {
	c := &RESTClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		clientID:   uuid.NewString(),
		userAgent:  "flowdeploy/1.0",
		httpClient: &http.Client{Timeout: DefaultTimeout},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ClientID returns the id this client stamps on new revisions.
func (c *RESTClient) ClientID() string {
	return c.clientID
}

// doRaw performs a request and returns the response body. Non-2xx responses
// become *errors.HTTPError. The token never appears in returned errors.
func (c *RESTClient) doRaw(
	ctx context.Context, method, path string, query url.Values, body any,
) ([]byte, error) {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("build %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	dur := time.Since(start)
	if err != nil {
		c.logger.Debug("canvas request failed",
			slog.String("method", method),
			slog.String("path", path),
			slog.Duration("duration", dur),
			slog.Any("error", err))
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s %s: %w", method, path, err)
	}

	c.logger.Debug("canvas request",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status_code", resp.StatusCode),
		slog.Duration("duration", dur))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &ferrors.HTTPError{
			StatusCode: resp.StatusCode,
			Message:    errorMessage(respBody, resp.Status),
			Endpoint:   path,
		}
	}
	return respBody, nil
}

// do performs a request and decodes the JSON response into out when non-nil.
func (c *RESTClient) do(
	ctx context.Context, method, path string, query url.Values, body, out any,
) error {
	data, err := c.doRaw(ctx, method, path, query, body)
	if err != nil {
		return err
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

// errorMessage extracts a readable message from an error body. The engine
// answers with plain text for most failures and JSON for a few.
func errorMessage(body []byte, status string) string {
	msg := strings.TrimSpace(string(body))
	if gjson.ValidBytes(body) {
		if m := gjson.GetBytes(body, "message"); m.Exists() {
			msg = m.String()
		}
	}
	if msg == "" {
		msg = status
	}
	if len(msg) > maxErrorMessage {
		msg = msg[:maxErrorMessage] + "..."
	}
	return msg
}

// revision stamps the client id onto r for a mutating call.
func (c *RESTClient) revision(r Revision) Revision {
	r.ClientID = c.clientID
	return r
}

func groupPath(id string, suffix ...string) string {
	p := "/process-groups/" + url.PathEscape(id)
	for _, s := range suffix {
		p += "/" + s
	}
	return p
}

// RootID implements GroupTree.
func (c *RESTClient) RootID(ctx context.Context) (string, error) {
	data, err := c.doRaw(ctx, http.MethodGet, "/flow/process-groups/root", nil, nil)
	if err != nil {
		return "", err
	}
	id := gjson.GetBytes(data, "processGroupFlow.id").String()
	if id == "" {
		return "", fmt.Errorf("root group response has no id")
	}
	return id, nil
}

// GetGroup implements GroupTree.
func (c *RESTClient) GetGroup(ctx context.Context, id string) (*Group, error) {
	var e groupEntity
	if err := c.do(ctx, http.MethodGet, groupPath(id), nil, nil, &e); err != nil {
		return nil, err
	}
	g := e.toGroup()
	return &g, nil
}

// ListChildGroups implements GroupTree.
func (c *RESTClient) ListChildGroups(ctx context.Context, parentID string) ([]Group, error) {
	var e groupsEntity
	if err := c.do(ctx, http.MethodGet, groupPath(parentID, "process-groups"), nil, nil, &e); err != nil {
		return nil, err
	}
	groups := make([]Group, 0, len(e.ProcessGroups))
	for _, pg := range e.ProcessGroups {
		g := pg.toGroup()
		if g.ParentID == "" {
			g.ParentID = parentID
		}
		groups = append(groups, g)
	}
	return groups, nil
}

// ListGroups implements GroupTree with a breadth-first walk from rootID.
// Each group is visited once even if the engine reports it twice.
func (c *RESTClient) ListGroups(ctx context.Context, rootID string) ([]Group, error) {
	root, err := c.GetGroup(ctx, rootID)
	if err != nil {
		return nil, err
	}
	all := []Group{*root}
	visited := map[string]bool{root.ID: true}
	queue := []string{root.ID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		children, err := c.ListChildGroups(ctx, id)
		if err != nil {
			return nil, err
		}
		for _, child := range children {
			if visited[child.ID] {
				continue
			}
			visited[child.ID] = true
			all = append(all, child)
			queue = append(queue, child.ID)
		}
	}
	return all, nil
}

// CreateGroup implements GroupTree.
func (c *RESTClient) CreateGroup(ctx context.Context, parentID, name string, pos Position) (*Group, error) {
	req := groupEntity{
		Revision: c.revision(Revision{}),
		Component: groupComponent{
			Name:     name,
			Position: &pos,
		},
	}
	var e groupEntity
	if err := c.do(ctx, http.MethodPost, groupPath(parentID, "process-groups"), nil, req, &e); err != nil {
		return nil, err
	}
	g := e.toGroup()
	return &g, nil
}

// RenameGroup implements GroupEditor.
func (c *RESTClient) RenameGroup(ctx context.Context, g *Group, name string) (*Group, error) {
	req := groupEntity{
		Revision:  c.revision(g.Revision),
		Component: groupComponent{ID: g.ID, Name: name},
	}
	var e groupEntity
	if err := c.do(ctx, http.MethodPut, groupPath(g.ID), nil, req, &e); err != nil {
		return nil, err
	}
	updated := e.toGroup()
	return &updated, nil
}

// AssignParameterContext implements GroupEditor.
func (c *RESTClient) AssignParameterContext(ctx context.Context, g *Group, contextID string) (*Group, error) {
	req := groupEntity{
		Revision: c.revision(g.Revision),
		Component: groupComponent{
			ID:               g.ID,
			ParameterContext: &idRef{ID: contextID},
		},
	}
	var e groupEntity
	if err := c.do(ctx, http.MethodPut, groupPath(g.ID), nil, req, &e); err != nil {
		return nil, err
	}
	updated := e.toGroup()
	return &updated, nil
}

// ListParameterContexts implements GroupEditor.
func (c *RESTClient) ListParameterContexts(ctx context.Context) ([]ParameterContext, error) {
	var e parameterContextsEntity
	if err := c.do(ctx, http.MethodGet, "/flow/parameter-contexts", nil, nil, &e); err != nil {
		return nil, err
	}
	out := make([]ParameterContext, 0, len(e.ParameterContexts))
	for _, pc := range e.ParameterContexts {
		out = append(out, ParameterContext{ID: pc.ID, Name: pc.Component.Name})
	}
	return out, nil
}

// StopVersionControl implements GroupEditor.
func (c *RESTClient) StopVersionControl(ctx context.Context, g *Group) error {
	q := url.Values{}
	q.Set("version", strconv.FormatInt(g.Revision.Version, 10))
	q.Set("clientId", c.clientID)
	return c.do(ctx, http.MethodDelete, "/versions/process-groups/"+url.PathEscape(g.ID), q, nil, nil)
}

// ListInputPorts implements PortLister.
func (c *RESTClient) ListInputPorts(ctx context.Context, groupID string, recursive bool) ([]Port, error) {
	return c.listPorts(ctx, groupID, recursive, KindInputPort)
}

// ListOutputPorts implements PortLister.
func (c *RESTClient) ListOutputPorts(ctx context.Context, groupID string, recursive bool) ([]Port, error) {
	return c.listPorts(ctx, groupID, recursive, KindOutputPort)
}

// listPorts lists ports of one group, or of every group in the subtree.
// The engine has no recursive port listing, so the subtree is walked here.
func (c *RESTClient) listPorts(
	ctx context.Context, groupID string, recursive bool, kind ComponentKind,
) ([]Port, error) {
	groupIDs := []string{groupID}
	if recursive {
		groups, err := c.ListGroups(ctx, groupID)
		if err != nil {
			return nil, err
		}
		groupIDs = groupIDs[:0]
		for _, g := range groups {
			groupIDs = append(groupIDs, g.ID)
		}
	}

	var ports []Port
	for _, id := range groupIDs {
		var entities []portEntity
		if kind == KindInputPort {
			var e inputPortsEntity
			if err := c.do(ctx, http.MethodGet, groupPath(id, "input-ports"), nil, nil, &e); err != nil {
				return nil, err
			}
			entities = e.InputPorts
		} else {
			var e outputPortsEntity
			if err := c.do(ctx, http.MethodGet, groupPath(id, "output-ports"), nil, nil, &e); err != nil {
				return nil, err
			}
			entities = e.OutputPorts
		}
		for _, pe := range entities {
			p := pe.toPort(kind)
			if p.GroupID == "" {
				p.GroupID = id
			}
			ports = append(ports, p)
		}
	}
	return ports, nil
}

// ListProcessors implements ProcessorEditor.
func (c *RESTClient) ListProcessors(ctx context.Context, groupID string, recursive bool) ([]Processor, error) {
	q := url.Values{}
	if recursive {
		q.Set("includeDescendantGroups", "true")
	}
	var e processorsEntity
	if err := c.do(ctx, http.MethodGet, groupPath(groupID, "processors"), q, nil, &e); err != nil {
		return nil, err
	}
	out := make([]Processor, 0, len(e.Processors))
	for _, pe := range e.Processors {
		out = append(out, pe.toProcessor())
	}
	return out, nil
}

// GetProcessor implements ProcessorEditor.
func (c *RESTClient) GetProcessor(ctx context.Context, id string) (*Processor, error) {
	var e processorEntity
	if err := c.do(ctx, http.MethodGet, "/processors/"+url.PathEscape(id), nil, nil, &e); err != nil {
		return nil, err
	}
	p := e.toProcessor()
	return &p, nil
}

// UpdateProcessorProperties implements ProcessorEditor.
func (c *RESTClient) UpdateProcessorProperties(
	ctx context.Context, p *Processor, props map[string]string,
) (*Processor, error) {
	wire := make(map[string]*string, len(props))
	for k, v := range props {
		v := v
		wire[k] = &v
	}
	req := processorEntity{
		Revision: c.revision(p.Revision),
		Component: processorComponent{
			ID:     p.ID,
			Config: &processorConfig{Properties: wire},
		},
	}
	var e processorEntity
	if err := c.do(ctx, http.MethodPut, "/processors/"+url.PathEscape(p.ID), nil, req, &e); err != nil {
		return nil, err
	}
	updated := e.toProcessor()
	return &updated, nil
}

// CreateConnection implements Connector.
func (c *RESTClient) CreateConnection(ctx context.Context, req ConnectionRequest) (*Connection, error) {
	body := connectionEntity{
		Revision: c.revision(Revision{}),
		Component: connectionComponent{
			Name:                  req.Name,
			Source:                req.Source,
			Destination:           req.Destination,
			SelectedRelationships: req.Relationships,
		},
	}
	var e connectionEntity
	if err := c.do(ctx, http.MethodPost, groupPath(req.GroupID, "connections"), nil, body, &e); err != nil {
		return nil, err
	}
	return &Connection{
		ID:            e.ID,
		Name:          e.Component.Name,
		GroupID:       req.GroupID,
		Source:        e.Component.Source,
		Destination:   e.Component.Destination,
		Relationships: e.Component.SelectedRelationships,
	}, nil
}

// runStatusPath returns the run-status endpoint for a component kind.
func runStatusPath(c Component) (string, error) {
	var base string
	switch c.Kind {
	case KindProcessor:
		base = "/processors/"
	case KindInputPort:
		base = "/input-ports/"
	case KindOutputPort:
		base = "/output-ports/"
	default:
		return "", fmt.Errorf("unsupported component kind %q", c.Kind)
	}
	return base + url.PathEscape(c.ID) + "/run-status", nil
}

// SetRunState implements StateSetter.
func (c *RESTClient) SetRunState(ctx context.Context, comp Component, state RunState) (Revision, error) {
	path, err := runStatusPath(comp)
	if err != nil {
		return Revision{}, err
	}
	req := runStatusEntity{
		Revision: c.revision(comp.Revision),
		State:    state,
	}
	data, err := c.doRaw(ctx, http.MethodPut, path, nil, req)
	if err != nil {
		return Revision{}, err
	}
	rev := Revision{
		Version:  gjson.GetBytes(data, "revision.version").Int(),
		ClientID: gjson.GetBytes(data, "revision.clientId").String(),
	}
	return rev, nil
}

// ListRegistryClients implements Registry.
func (c *RESTClient) ListRegistryClients(ctx context.Context) ([]RegistryClient, error) {
	var e registriesEntity
	if err := c.do(ctx, http.MethodGet, "/flow/registries", nil, nil, &e); err != nil {
		return nil, err
	}
	out := make([]RegistryClient, 0, len(e.Registries))
	for _, r := range e.Registries {
		out = append(out, RegistryClient{ID: r.ID, Name: r.Component.Name, Type: r.Component.Type})
	}
	return out, nil
}

func registryPath(registryID string, suffix ...string) string {
	p := "/flow/registries/" + url.PathEscape(registryID)
	for _, s := range suffix {
		p += "/" + url.PathEscape(s)
	}
	return p
}

// GetBucket implements Registry. bucketRef matches an id or a name.
func (c *RESTClient) GetBucket(ctx context.Context, registryID, bucketRef string) (*Bucket, error) {
	var e bucketsEntity
	if err := c.do(ctx, http.MethodGet, registryPath(registryID, "buckets"), nil, nil, &e); err != nil {
		return nil, err
	}
	var byName *Bucket
	for _, b := range e.Buckets {
		id := b.ID
		if id == "" {
			id = b.Bucket.ID
		}
		if id == bucketRef {
			return &Bucket{ID: id, Name: b.Bucket.Name}, nil
		}
		if byName == nil && b.Bucket.Name == bucketRef {
			byName = &Bucket{ID: id, Name: b.Bucket.Name}
		}
	}
	if byName != nil {
		return byName, nil
	}
	return nil, ferrors.NotFound("get bucket", "bucket %q not found in registry %s", bucketRef, registryID)
}

// GetFlow implements Registry. flowRef matches an id or a name.
func (c *RESTClient) GetFlow(ctx context.Context, registryID, bucketID, flowRef string) (*Flow, error) {
	var e flowsEntity
	if err := c.do(ctx, http.MethodGet, registryPath(registryID, "buckets", bucketID, "flows"), nil, nil, &e); err != nil {
		return nil, err
	}
	var byName *Flow
	for _, f := range e.VersionedFlows {
		vf := f.VersionedFlow
		flow := &Flow{ID: vf.FlowID, Name: vf.FlowName, BucketID: bucketID}
		if vf.FlowID == flowRef {
			return flow, nil
		}
		if byName == nil && vf.FlowName == flowRef {
			byName = flow
		}
	}
	if byName != nil {
		return byName, nil
	}
	return nil, ferrors.NotFound("get flow", "flow %q not found in bucket %s", flowRef, bucketID)
}

// ListFlowVersions implements Registry. Entries whose version cannot be
// extracted are returned with an empty Version.
func (c *RESTClient) ListFlowVersions(
	ctx context.Context, registryID, bucketID, flowID string,
) ([]VersionMetadata, error) {
	data, err := c.doRaw(ctx, http.MethodGet,
		registryPath(registryID, "buckets", bucketID, "flows", flowID, "versions"), nil, nil)
	if err != nil {
		return nil, err
	}
	set := gjson.GetBytes(data, "versionedFlowSnapshotMetadataSet")
	if !set.IsArray() {
		return nil, nil
	}
	var out []VersionMetadata
	set.ForEach(func(_, entry gjson.Result) bool {
		meta := entry.Get("versionedFlowSnapshotMetadata")
		if !meta.Exists() {
			meta = entry
		}
		out = append(out, VersionMetadata{
			Version:   meta.Get("version").String(),
			Author:    meta.Get("author").String(),
			Comments:  meta.Get("comments").String(),
			Timestamp: meta.Get("timestamp").Int(),
		})
		return true
	})
	return out, nil
}

// DeployFlowVersion implements Deployer.
func (c *RESTClient) DeployFlowVersion(ctx context.Context, req DeployRequest) (*Group, error) {
	pos := req.Position
	body := groupEntity{
		Revision: c.revision(Revision{}),
		Component: groupComponent{
			Position: &pos,
			VersionControlInformation: &versionControlDTO{
				RegistryID: req.RegistryID,
				BucketID:   req.BucketID,
				FlowID:     req.FlowID,
				Version:    versionToken(req.Version),
			},
		},
	}
	var e groupEntity
	if err := c.do(ctx, http.MethodPost, groupPath(req.ParentID, "process-groups"), nil, body, &e); err != nil {
		return nil, err
	}
	g := e.toGroup()
	if g.ParentID == "" {
		g.ParentID = req.ParentID
	}
	return &g, nil
}
