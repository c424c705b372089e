// Package simulator is a REST-driving load generator for the ACD, ported
// from original_source/src/simulator.py: it opens the ACD with a pool of
// randomly-skilled agents, then fires contacts with random skill
// requirements and completes each one (either because an agent picked it
// up, or because it was abandoned while queued).
package simulator

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/aidenlippert/acd-dispatch/internal/model"
)

var (
	languages  = []string{"English", "Spanish"}
	expertises = []string{"Support", "Disputes", "Billing"}
	firstNames = []string{"Alex", "Jordan", "Taylor", "Morgan", "Casey", "Riley", "Quinn", "Avery"}
	lastNames  = []string{"Smith", "Nguyen", "Garcia", "Patel", "Kim", "Johnson", "Brown", "Davis"}
)

func randomSkills() []string {
	return []string{
		languages[rand.Intn(len(languages))],
		expertises[rand.Intn(len(expertises))],
	}
}

// Client drives the ACD's REST surface against a base URL.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

// New constructs a simulator Client.
func New(baseURL string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 5 * time.Second},
		logger:  logger,
	}
}

// checkStatus returns an error describing the response body if resp's status
// is not 2xx, so a rejected request never passes for a successful one.
func checkStatus(path string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	var detail struct {
		Detail string `json:"detail"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&detail)
	resp.Body.Close()
	return fmt.Errorf("simulator: %s: status %d: %s", path, resp.StatusCode, detail.Detail)
}

func (c *Client) postJSON(path string, body any) (*http.Response, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("simulator: marshal %s body: %w", path, err)
	}
	resp, err := c.http.Post(c.baseURL+path, "application/json", bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	if err := checkStatus(path, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) patchJSON(path string, body any) (*http.Response, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("simulator: marshal %s body: %w", path, err)
	}
	req, err := http.NewRequest(http.MethodPatch, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if err := checkStatus(path, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// OpenACD creates numAgents agents with random names and skills, then opens
// the ACD (original_source/src/simulator.py openAcd).
func (c *Client) OpenACD(numAgents int) error {
	for i := 0; i < numAgents; i++ {
		body := map[string]any{
			"fname":  firstNames[rand.Intn(len(firstNames))],
			"lname":  lastNames[rand.Intn(len(lastNames))],
			"skills": randomSkills(),
		}
		resp, err := c.postJSON(fmt.Sprintf("/agent/agent:%d", i), body)
		if err != nil {
			return fmt.Errorf("simulator: create agent %d: %w", i, err)
		}
		resp.Body.Close()
	}

	resp, err := c.postJSON("/acd", map[string]any{"state": int(model.ACDOpen)})
	if err != nil {
		return fmt.Errorf("simulator: open acd: %w", err)
	}
	resp.Body.Close()
	c.logger.Info("acd opened", zap.Int("agents", numAgents))
	return nil
}

// CloseACD closes the ACD (original_source/src/simulator.py closeAcd).
func (c *Client) CloseACD() error {
	resp, err := c.postJSON("/acd", map[string]any{"state": int(model.ACDClosed)})
	if err != nil {
		return fmt.Errorf("simulator: close acd: %w", err)
	}
	resp.Body.Close()
	c.logger.Info("acd closed")
	return nil
}

type contactView struct {
	Skills []string           `json:"skills"`
	State  model.ContactState `json:"state"`
	Agent  string             `json:"agent"`
}

// GenerateContact creates one contact with random skill requirements, waits
// for it to be worked or abandoned, and completes it, freeing its agent if
// one was assigned (original_source/src/simulator.py generate).
func (c *Client) GenerateContact() error {
	resp, err := c.postJSON("/contact", map[string]any{"skills": randomSkills()})
	if err != nil {
		return fmt.Errorf("simulator: create contact: %w", err)
	}
	var created struct {
		ContactKey string `json:"contact_key"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		resp.Body.Close()
		return fmt.Errorf("simulator: decode contact_key: %w", err)
	}
	resp.Body.Close()

	time.Sleep(time.Duration((1 + rand.Float64()*2) * float64(time.Second)))

	resp, err = c.http.Get(c.baseURL + "/contact/" + created.ContactKey)
	if err != nil {
		return fmt.Errorf("simulator: get contact: %w", err)
	}
	var contact contactView
	if err := json.NewDecoder(resp.Body).Decode(&contact); err != nil {
		resp.Body.Close()
		return fmt.Errorf("simulator: decode contact: %w", err)
	}
	resp.Body.Close()

	if contact.State == model.ContactAssigned {
		c.logger.Info("contact complete", zap.String("contact", created.ContactKey), zap.String("agent", contact.Agent))
		resp, err := c.patchJSON("/agent/"+contact.Agent+"/state", map[string]any{"state": int(model.AgentAvailable)})
		if err != nil {
			return fmt.Errorf("simulator: free agent: %w", err)
		}
		resp.Body.Close()
	} else {
		c.logger.Info("contact abandoned", zap.String("contact", created.ContactKey))
	}

	req, err := http.NewRequest(http.MethodPatch, c.baseURL+"/contact/"+created.ContactKey, nil)
	if err != nil {
		return err
	}
	resp, err = c.http.Do(req)
	if err != nil {
		return fmt.Errorf("simulator: complete contact: %w", err)
	}
	resp.Body.Close()
	return nil
}
