package testutils

import (
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
)

const TypesenseAPIKey = "test-api-key-12345"

// StartTypesense runs a throwaway Typesense node and returns its base URL.
func StartTypesense(t *testing.T) string {
	t.Helper()

	pool, err := dockertest.NewPool("")
	if err != nil {
		t.Skipf("docker unavailable: %v", err)
	}
	if err := pool.Client.Ping(); err != nil {
		t.Skipf("docker unavailable: %v", err)
	}
	pool.MaxWait = 120 * time.Second

	resource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: "typesense/typesense",
		Tag:        "28.0",
		Cmd: []string{
			"--data-dir=/data",
			"--api-key=" + TypesenseAPIKey,
		},
	}, func(config *docker.HostConfig) {
		config.AutoRemove = true
		config.RestartPolicy = docker.RestartPolicy{Name: "no"}
		config.Tmpfs = map[string]string{"/data": "size=100m"}
	})
	if err != nil {
		t.Fatalf("could not start typesense: %v", err)
	}
	t.Cleanup(func() {
		_ = pool.Purge(resource)
	})
	_ = resource.Expire(300)

	url := fmt.Sprintf("http://%s", resource.GetHostPort("8108/tcp"))
	client := &http.Client{Timeout: 5 * time.Second}

	if err := pool.Retry(func() error {
		req, err := http.NewRequest(http.MethodGet, url+"/health", nil)
		if err != nil {
			return err
		}
		req.Header.Set("X-TYPESENSE-API-KEY", TypesenseAPIKey)
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("typesense not ready, status: %d", resp.StatusCode)
		}
		return nil
	}); err != nil {
		t.Fatalf("typesense never became healthy: %v", err)
	}

	return url
}
