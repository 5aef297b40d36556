package instance

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/flowdeploy/pkg/flowdeploy/canvas"
	"github.com/randalmurphal/flowdeploy/pkg/flowdeploy/canvas/canvastest"
	"github.com/randalmurphal/flowdeploy/pkg/flowdeploy/config"
	ferrors "github.com/randalmurphal/flowdeploy/pkg/flowdeploy/errors"
)

func TestRegisterAndClient(t *testing.T) {
	r := New(nil)
	engine := canvastest.New("root")
	r.Register("lab", engine)

	c, err := r.Client("lab")
	require.NoError(t, err)
	assert.Same(t, engine, c)
	assert.True(t, r.Has("lab"))
	assert.Equal(t, []string{"lab"}, r.IDs())
}

func TestClient_Unknown(t *testing.T) {
	_, err := New(nil).Client("missing")
	require.Error(t, err)
	assert.True(t, ferrors.IsNotFound(err))
}

func TestConfigure_BuildsOnce(t *testing.T) {
	var built atomic.Int32
	r := New(nil, WithFactory(func(inst config.Instance) canvas.Client {
		built.Add(1)
		return canvastest.New(inst.ID)
	}))
	r.Configure(config.Instance{ID: "prod", BaseURL: "http://prod"})

	var wg sync.WaitGroup
	clients := make([]canvas.Client, 20)
	for i := range clients {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			clients[i], _ = r.Client("prod")
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), built.Load())
	for _, c := range clients {
		assert.Same(t, clients[0], c)
	}

	// Reconfiguring discards the built client.
	r.Configure(config.Instance{ID: "prod", BaseURL: "http://prod2"})
	_, err := r.Client("prod")
	require.NoError(t, err)
	assert.Equal(t, int32(2), built.Load())
}

func TestRemove(t *testing.T) {
	r := New(nil)
	r.Configure(config.Instance{ID: "a", BaseURL: "http://a"})
	r.Register("b", canvastest.New("root"))
	assert.Equal(t, 2, r.Len())

	r.Remove("a")
	assert.False(t, r.Has("a"))
	assert.Equal(t, []string{"b"}, r.IDs())
}

func TestFromSettings(t *testing.T) {
	s := config.NewDefaultSettings()
	s.HTTPTimeout = 7 * time.Second
	s.Instances = []config.Instance{
		{ID: "prod", BaseURL: "http://prod/nifi-api", Token: "t"},
		{ID: "lab", BaseURL: "http://lab/nifi-api", Timeout: time.Second},
	}
	r := FromSettings(s, nil)

	assert.Equal(t, []string{"lab", "prod"}, r.IDs())
	c, err := r.Client("prod")
	require.NoError(t, err)
	assert.IsType(t, &canvas.RESTClient{}, c)
}
