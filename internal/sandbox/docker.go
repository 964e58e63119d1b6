package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/image"
	dockerclient "github.com/docker/docker/client"
	"github.com/docker/go-units"

	"github.com/gluk-w/cargocult/internal/config"
)

// ErrImageMissing is returned when the demo image is not present on the
// docker host.
var ErrImageMissing = errors.New("sandbox image missing")

// imageAPI is the part of the docker client the checker needs.
type imageAPI interface {
	Ping(ctx context.Context) (types.Ping, error)
	ImageInspectWithRaw(ctx context.Context, imageID string) (image.InspectResponse, []byte, error)
	Close() error
}

// ImageChecker verifies that the demo image exists on the docker host and
// remembers the outcome of the last check for the health endpoint.
type ImageChecker struct {
	client imageAPI
	Image  string

	mu        sync.Mutex
	lastErr   error
	checkedAt time.Time
	size      int64
}

// NewImageChecker connects to the docker daemon named by the environment or
// by Cfg.DockerHost.
func NewImageChecker(ctx context.Context, img string) (*ImageChecker, error) {
	var opts []dockerclient.Opt
	opts = append(opts, dockerclient.FromEnv)
	opts = append(opts, dockerclient.WithAPIVersionNegotiation())
	if config.Cfg.DockerHost != "" {
		opts = append(opts, dockerclient.WithHost(config.Cfg.DockerHost))
	}

	cli, err := dockerclient.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	if _, err := cli.Ping(ctx); err != nil {
		cli.Close()
		return nil, fmt.Errorf("docker ping: %w", err)
	}
	return newImageChecker(cli, img), nil
}

func newImageChecker(api imageAPI, img string) *ImageChecker {
	return &ImageChecker{client: api, Image: img}
}

// Check inspects the image and records the result.
func (c *ImageChecker) Check(ctx context.Context) error {
	resp, _, err := c.client.ImageInspectWithRaw(ctx, c.Image)
	switch {
	case err == nil:
	case dockerclient.IsErrNotFound(err):
		err = fmt.Errorf("%w: %s", ErrImageMissing, c.Image)
	default:
		err = fmt.Errorf("inspect image %s: %w", c.Image, err)
	}

	c.mu.Lock()
	c.lastErr = err
	c.checkedAt = time.Now()
	if err == nil {
		c.size = resp.Size
	}
	c.mu.Unlock()

	if err != nil {
		log.Printf("[sandbox] %v", err)
		return err
	}
	log.Printf("[sandbox] image %s found locally (%s)", c.Image, units.HumanSize(float64(resp.Size)))
	return nil
}

// Status reports the last check. A checker that never ran reports an error.
func (c *ImageChecker) Status() (ok bool, detail string, checkedAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.checkedAt.IsZero() {
		return false, "not checked", c.checkedAt
	}
	if c.lastErr != nil {
		return false, c.lastErr.Error(), c.checkedAt
	}
	return true, fmt.Sprintf("%s (%s)", c.Image, units.HumanSize(float64(c.size))), c.checkedAt
}

func (c *ImageChecker) Close() error {
	return c.client.Close()
}
