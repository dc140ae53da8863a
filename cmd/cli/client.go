// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-resty/resty/v2"
)

func apiBaseURL() string {
	if u := os.Getenv("COCHAT_API_URL"); u != "" {
		return u
	}
	return "http://localhost:8080"
}

func newClient() *resty.Client {
	c := resty.New().
		SetBaseURL(apiBaseURL()).
		SetTimeout(30 * time.Second).
		SetHeader("Content-Type", "application/json")
	if key := os.Getenv("COCHAT_API_KEY"); key != "" {
		c.SetHeader("X-API-Key", key)
	}
	return c
}

func createAgent(tenantID, name, webhookURL string) (map[string]interface{}, error) {
	var out map[string]interface{}
	resp, err := newClient().R().
		SetHeader("X-Tenant-ID", tenantID).
		SetBody(map[string]string{"name": name, "webhook_url": webhookURL}).
		SetResult(&out).
		Post("/api/agents")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != http.StatusCreated {
		return nil, fmt.Errorf("POST /api/agents: %s", resp.String())
	}
	return out, nil
}

func listAgents(tenantID string) (map[string]interface{}, error) {
	var out map[string]interface{}
	resp, err := newClient().R().
		SetHeader("X-Tenant-ID", tenantID).
		SetResult(&out).
		Get("/api/agents")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("GET /api/agents: %s", resp.String())
	}
	return out, nil
}

func sendMessage(tenantID, userID, sessionID, agentID, text string) (map[string]interface{}, error) {
	body := map[string]interface{}{
		"message":    text,
		"tenant_id":  tenantID,
		"session_id": sessionID,
		"user_id":    userID,
	}
	if agentID != "" {
		body["agent_id"] = agentID
	}
	var out map[string]interface{}
	resp, err := newClient().R().
		SetBody(body).
		SetResult(&out).
		Post("/api/messages")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != http.StatusAccepted {
		return nil, fmt.Errorf("POST /api/messages: %s", resp.String())
	}
	return out, nil
}

func searchMemory(tenantID, userID, query string) (map[string]interface{}, error) {
	var out map[string]interface{}
	resp, err := newClient().R().
		SetHeader("X-Tenant-ID", tenantID).
		SetBody(map[string]string{"user_id": userID, "query": query}).
		SetResult(&out).
		Post("/api/memory/search")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("POST /api/memory/search: %s", resp.String())
	}
	return out, nil
}

func getHealth() (string, error) {
	resp, err := newClient().R().Get("/api/health")
	if err != nil {
		return "", err
	}
	return resp.String(), nil
}
