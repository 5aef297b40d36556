package flowdeploy_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/flowdeploy/pkg/flowdeploy"
	"github.com/randalmurphal/flowdeploy/pkg/flowdeploy/canvas"
	"github.com/randalmurphal/flowdeploy/pkg/flowdeploy/canvas/canvastest"
	"github.com/randalmurphal/flowdeploy/pkg/flowdeploy/config"
	ferrors "github.com/randalmurphal/flowdeploy/pkg/flowdeploy/errors"
	"github.com/randalmurphal/flowdeploy/pkg/flowdeploy/history"
	"github.com/randalmurphal/flowdeploy/pkg/flowdeploy/instance"
	"github.com/randalmurphal/flowdeploy/pkg/flowdeploy/routing"
	"github.com/randalmurphal/flowdeploy/pkg/flowdeploy/sequencer"
	"github.com/randalmurphal/flowdeploy/pkg/flowdeploy/templates"
	"github.com/randalmurphal/flowdeploy/pkg/flowdeploy/wiring"
)

func newEngine() *canvastest.Engine {
	e := canvastest.New("NiFi Flow")
	e.AddRegistry("reg-1", "Default Registry", "org.apache.nifi.registry.flow.NifiRegistryFlowRegistryClient")
	e.AddBucket("reg-1", "b1", "Bucket One")
	e.AddFlow("reg-1", "b1", "f1", "Ingest", []string{"1", "2", "3"}, canvastest.FlowContents{
		InputPorts:  []string{"in"},
		OutputPorts: []string{"out"},
		Processors:  []canvastest.ProcessorSpec{{Name: "log", Type: "LogAttribute"}},
	})
	return e
}

func newService(t *testing.T, settings *config.Settings) (*flowdeploy.Service, *canvastest.Engine) {
	t.Helper()
	e := newEngine()
	reg := instance.New(nil)
	reg.Register("prod", e)
	svc, err := flowdeploy.New(settings, flowdeploy.WithInstances(reg))
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return svc, e
}

func ingest() sequencer.Target {
	return sequencer.Target{RegistryID: "reg-1", BucketID: "b1", FlowID: "f1"}
}

func TestService_DeployRecordsHistory(t *testing.T) {
	svc, e := newService(t, nil)
	ctx := context.Background()

	res, err := svc.Deploy(ctx, "prod", sequencer.Request{Target: ingest(), ParentPath: "OrgA/SiteB"})
	require.NoError(t, err)
	assert.Equal(t, sequencer.StatusDeployed, res.Status())

	rec, err := svc.Deployment(ctx, res.DeploymentID)
	require.NoError(t, err)
	assert.Equal(t, "prod", rec.InstanceID)
	assert.Equal(t, history.StatusDeployed, rec.Status)
	assert.Equal(t, "3", rec.Version)
	assert.Equal(t, res.GroupID, rec.GroupID)
	assert.Equal(t, "f1", rec.FlowID)
	assert.Empty(t, rec.Error)

	g, ok := e.Group(res.GroupID)
	require.True(t, ok)
	assert.Equal(t, rec.ParentGroupID, g.ParentID)
}

func TestService_FailedDeployIsRecorded(t *testing.T) {
	svc, _ := newService(t, nil)
	ctx := context.Background()
	req := sequencer.Request{Target: ingest(), ParentPath: "OrgA"}

	_, err := svc.Deploy(ctx, "prod", req)
	require.NoError(t, err)
	res, err := svc.Deploy(ctx, "prod", req)
	require.Error(t, err)
	assert.True(t, ferrors.IsConflict(err))

	failed, err := svc.History(ctx, history.Filter{Status: history.StatusFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, res.DeploymentID, failed[0].DeploymentID)
	assert.Contains(t, failed[0].Error, "already exists")
	assert.Empty(t, failed[0].GroupID)

	all, err := svc.History(ctx, history.Filter{InstanceID: "prod"})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestService_UnknownInstance(t *testing.T) {
	svc, _ := newService(t, nil)
	ctx := context.Background()

	res, err := svc.Deploy(ctx, "staging", sequencer.Request{Target: ingest()})
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, ferrors.IsNotFound(err))
	assert.Equal(t, 404, ferrors.HTTPStatus(err))

	_, err = svc.SetState(ctx, "staging", "g", canvas.StateRunning)
	assert.True(t, ferrors.IsNotFound(err))

	recs, err := svc.History(ctx, history.Filter{})
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestService_ResolvePath(t *testing.T) {
	svc, e := newService(t, nil)
	ctx := context.Background()

	_, err := svc.LookupPath(ctx, "prod", "OrgA/SiteB")
	assert.True(t, ferrors.IsNotFound(err))

	res, err := svc.ResolvePath(ctx, "prod", "OrgA/SiteB")
	require.NoError(t, err)
	assert.Len(t, res.Created, 2)

	again, err := svc.ResolvePath(ctx, "prod", "/OrgA/SiteB/")
	require.NoError(t, err)
	assert.Empty(t, again.Created)
	assert.Equal(t, res.GroupID, again.GroupID)

	id, err := svc.LookupPath(ctx, "prod", "NiFi Flow/OrgA/SiteB")
	require.NoError(t, err)
	assert.Equal(t, res.GroupID, id)
	assert.Equal(t, 3, e.GroupCount())
}

func TestService_RouterSettings(t *testing.T) {
	tests := []struct {
		name          string
		restart       bool
		wantRunning   bool
		wantRestarted bool
	}{
		{"restart after edit", true, true, true},
		{"leave stopped", false, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			settings := config.NewDefaultSettings()
			settings.Router.Attribute = "site.code"
			settings.Router.RestartAfterEdit = tt.restart
			svc, e := newService(t, settings)
			ctx := context.Background()

			site, err := svc.ResolvePath(ctx, "prod", "OrgA/SiteB")
			require.NoError(t, err)
			router := e.AddRouter(site.GroupID, "Route by site", canvas.StateRunning, map[string]string{
				routing.DefaultStrategyProperty: routing.DefaultRuleStrategy,
			})

			res, err := svc.Deploy(ctx, "prod", sequencer.Request{
				Target:      ingest(),
				ParentPath:  "OrgA/SiteB",
				PostActions: sequencer.PostActions{AutoConnect: true},
			})
			require.NoError(t, err)
			require.NotNil(t, res.Wiring)
			assert.Equal(t, wiring.ModeRouter, res.Wiring.Mode)
			assert.True(t, res.Wiring.Router.RuleAdded)
			assert.Equal(t, tt.wantRestarted, res.Wiring.Router.Restarted)

			p, _ := e.Processor(router)
			assert.Equal(t, "${site.code:equalsIgnoreCase('Ingest')}", p.Properties["Ingest"])
			assert.Equal(t, tt.wantRunning, p.State == canvas.StateRunning)

			require.NotNil(t, res.Wiring.Input.Connection)
			assert.Equal(t, []string{"Ingest"}, res.Wiring.Input.Connection.Relationships)
		})
	}
}

func TestService_AutoConnectInfersParent(t *testing.T) {
	svc, e := newService(t, nil)
	ctx := context.Background()

	res, err := svc.Deploy(ctx, "prod", sequencer.Request{Target: ingest(), ParentPath: "OrgA"})
	require.NoError(t, err)
	parentIn := e.AddInputPort(res.ParentGroupID, "from-site", canvas.StateRunning)
	parentOut := e.AddOutputPort(res.ParentGroupID, "to-site", canvas.StateRunning)

	report, err := svc.AutoConnect(ctx, "prod", res.GroupID, "")
	require.NoError(t, err)
	assert.Equal(t, res.ParentGroupID, report.ParentID)
	assert.Equal(t, wiring.ModeDirect, report.Mode)
	assert.Equal(t, parentIn, report.Input.Connection.Source.ID)
	assert.Equal(t, parentOut, report.Output.Connection.Destination.ID)
	assert.Len(t, e.Connections(), 2)
}

func TestService_AutoConnectErrors(t *testing.T) {
	svc, e := newService(t, nil)
	ctx := context.Background()

	_, err := svc.AutoConnect(ctx, "prod", "", "")
	assert.True(t, ferrors.IsBadRequest(err))

	_, err = svc.AutoConnect(ctx, "prod", e.Root(), "")
	assert.True(t, ferrors.IsBadRequest(err))

	_, err = svc.AutoConnect(ctx, "prod", "missing", "")
	assert.True(t, ferrors.IsNotFound(err))
}

func TestService_SetState(t *testing.T) {
	svc, e := newService(t, nil)
	ctx := context.Background()

	res, err := svc.Deploy(ctx, "prod", sequencer.Request{Target: ingest()})
	require.NoError(t, err)

	report, err := svc.SetState(ctx, "prod", res.GroupID, canvas.StateDisabled)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Succeeded())
	for _, p := range e.ProcessorsOf(res.GroupID) {
		assert.Equal(t, canvas.StateDisabled, p.State)
	}

	_, err = svc.SetState(ctx, "prod", res.GroupID, canvas.RunState("PAUSED"))
	assert.True(t, ferrors.IsBadRequest(err))
}

func TestService_Templates(t *testing.T) {
	svc, _ := newService(t, nil)
	ctx := context.Background()
	require.NoError(t, svc.Templates().Put(ctx, templates.Template{
		ID: "ingest-v2", Name: "Ingest", RegistryID: "Default Registry", BucketID: "Bucket One", FlowID: "Ingest", Version: "2",
	}))

	res, err := svc.Deploy(ctx, "prod", sequencer.Request{TemplateID: "ingest-v2"})
	require.NoError(t, err)
	assert.Equal(t, "2", res.Version)

	rec, err := svc.Deployment(ctx, res.DeploymentID)
	require.NoError(t, err)
	assert.Equal(t, "ingest-v2", rec.TemplateID)
	assert.Equal(t, "reg-1", rec.RegistryID)
	assert.Equal(t, "b1", rec.BucketID)
}

func TestService_SQLiteHistory(t *testing.T) {
	settings := config.NewDefaultSettings()
	settings.HistoryPath = filepath.Join(t.TempDir(), "history.db")

	e := newEngine()
	reg := instance.New(nil)
	reg.Register("prod", e)
	svc, err := flowdeploy.New(settings, flowdeploy.WithInstances(reg))
	require.NoError(t, err)

	res, err := svc.Deploy(context.Background(), "prod", sequencer.Request{Target: ingest()})
	require.NoError(t, err)
	require.NoError(t, svc.Close())

	store, err := history.NewSQLiteStore(settings.HistoryPath)
	require.NoError(t, err)
	defer store.Close()
	rec, err := store.Get(context.Background(), res.DeploymentID)
	require.NoError(t, err)
	assert.Equal(t, res.GroupID, rec.GroupID)
}

func TestNew_InvalidTemplateDriver(t *testing.T) {
	settings := config.NewDefaultSettings()
	settings.Templates.Driver = "etcd"

	_, err := flowdeploy.New(settings)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open template store")
}

func TestNew_FromSettings(t *testing.T) {
	settings := config.NewDefaultSettings()
	settings.Instances = []config.Instance{{ID: "prod", BaseURL: "https://nifi.example:8443/nifi-api", Token: "t"}}

	svc, err := flowdeploy.New(settings)
	require.NoError(t, err)
	defer svc.Close()
	assert.Equal(t, []string{"prod"}, svc.Instances().IDs())
}
