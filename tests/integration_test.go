package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

type IntegrationTestSuite struct {
	suite.Suite
	baseURL      string
	webhookToken string
	client       *http.Client
}

func (suite *IntegrationTestSuite) SetupSuite() {
	suite.baseURL = getenv("SERVICE_URL", "http://localhost:8080")
	suite.webhookToken = os.Getenv("WEBHOOK_SECRET")
	suite.client = &http.Client{Timeout: 10 * time.Second}
	suite.waitForService()
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func (suite *IntegrationTestSuite) waitForService() {
	for i := 0; i < 30; i++ {
		resp, err := http.Get(suite.baseURL + "/health")
		if err == nil && resp.StatusCode == http.StatusOK {
			fmt.Println("service is ready")
			return
		}
		fmt.Printf("waiting for service... (attempt %d/30)\n", i+1)
		time.Sleep(1 * time.Second)
	}
	suite.T().Fatal("service failed to start within 30 seconds")
}

func (suite *IntegrationTestSuite) postWebhook(body any) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequest("POST", suite.baseURL+"/webhook", bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if suite.webhookToken != "" {
		req.Header.Set("X-Gitlab-Token", suite.webhookToken)
	}
	return suite.client.Do(req)
}

func (suite *IntegrationTestSuite) TestHealth() {
	t := suite.T()

	resp, err := http.Get(suite.baseURL + "/health")
	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var health struct {
		Status string `json:"status"`
	}
	assert.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "ok", health.Status)
}

func (suite *IntegrationTestSuite) TestPushEventAccepted() {
	t := suite.T()

	// An unconfigured project: the event is acknowledged and dropped by
	// the processor without side effects.
	resp, err := suite.postWebhook(map[string]any{
		"object_kind": "push",
		"user_id":     1,
		"user_email":  "dev@example.com",
		"project_id":  999999,
		"ref":         "refs/heads/feature/integration",
		"before":      "1111111111111111111111111111111111111111",
		"after":       "2222222222222222222222222222222222222222",
	})
	assert.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	var envelope struct {
		Success bool   `json:"success"`
		Status  string `json:"status"`
	}
	assert.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	assert.True(t, envelope.Success)
	assert.Equal(t, "OK", envelope.Status)
}

func (suite *IntegrationTestSuite) TestUnknownEventKindAccepted() {
	t := suite.T()

	resp, err := suite.postWebhook(map[string]any{"object_kind": "pipeline"})
	assert.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
}

func (suite *IntegrationTestSuite) TestWebhookBadTokenRejected() {
	t := suite.T()
	if suite.webhookToken == "" {
		t.Skip("WEBHOOK_SECRET not set, token check disabled")
	}

	req, err := http.NewRequest("POST", suite.baseURL+"/webhook", bytes.NewReader([]byte(`{"object_kind":"push"}`)))
	assert.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Gitlab-Token", "wrong-token")

	resp, err := suite.client.Do(req)
	assert.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func (suite *IntegrationTestSuite) TestReviewLinkBadSignatureRejected() {
	t := suite.T()

	resp, err := http.Get(suite.baseURL + "/review/42/feature%2Flogin/7/deadbeef00")
	assert.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, err = http.Get(suite.baseURL + "/review/load/42/feature%2Flogin/7/deadbeef00")
	assert.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func (suite *IntegrationTestSuite) TestSubmitWithoutSignatureRejected() {
	t := suite.T()

	resp, err := suite.client.PostForm(suite.baseURL+"/review/submit", map[string][]string{
		"user_id":           {"7"},
		"source_project_id": {"42"},
		"target_project_id": {"42"},
		"source_branch":     {"feature/login"},
		"target_branch":     {"develop"},
	})
	assert.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestIntegrationSuite(t *testing.T) {
	if os.Getenv("RUN_INTEGRATION") == "" {
		t.Skip("set RUN_INTEGRATION to run against a live stack")
	}
	suite.Run(t, new(IntegrationTestSuite))
}
