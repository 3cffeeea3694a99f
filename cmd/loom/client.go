package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"loom/internal/api"
)

type apiClient struct {
	base string
	http *http.Client
}

func newAPIClient(base string) *apiClient {
	return &apiClient{
		base: base,
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *apiClient) CreateTask(prompt string) (api.TaskSnapshot, error) {
	var snapshot api.TaskSnapshot
	err := c.do(http.MethodPost, "/api/tasks", map[string]string{"prompt": prompt}, &snapshot)
	return snapshot, err
}

func (c *apiClient) GetTask(taskID string) (api.TaskSnapshot, error) {
	var snapshot api.TaskSnapshot
	err := c.do(http.MethodGet, "/api/tasks/"+url.PathEscape(taskID), nil, &snapshot)
	return snapshot, err
}

func (c *apiClient) Approve(taskID string) (api.ApprovalOutcome, error) {
	var outcome api.ApprovalOutcome
	err := c.do(http.MethodPost, "/api/tasks/"+url.PathEscape(taskID)+"/approve", nil, &outcome)
	return outcome, err
}

func (c *apiClient) ListTasks(status string) ([]api.TaskSnapshot, error) {
	path := "/api/tasks"
	if status != "" {
		path += "?status=" + url.QueryEscape(status)
	}
	var listing struct {
		Tasks []api.TaskSnapshot `json:"tasks"`
	}
	if err := c.do(http.MethodGet, path, nil, &listing); err != nil {
		return nil, err
	}
	return listing.Tasks, nil
}

func (c *apiClient) Status() (api.StatusReport, error) {
	var report api.StatusReport
	err := c.do(http.MethodGet, "/api/status", nil, &report)
	return report, err
}

func (c *apiClient) do(method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("is the loom daemon running? %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("daemon: %s", apiErr.Error)
		}
		return fmt.Errorf("daemon returned http %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
