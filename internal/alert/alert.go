package alert

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Manager posts alerts to a Slack webhook. A disabled manager, or one without
// a webhook, silently drops every alert.
type Manager struct {
	enabled      bool
	slackWebhook string
	nodeID       string
	httpClient   HTTPClient
}

type slackMessage struct {
	Text        string            `json:"text"`
	Attachments []slackAttachment `json:"attachments,omitempty"`
}

type slackAttachment struct {
	Color  string       `json:"color"`
	Title  string       `json:"title"`
	Fields []slackField `json:"fields"`
	Footer string       `json:"footer"`
	Ts     int64        `json:"ts"`
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

func NewManager(enabled bool, slackWebhook, nodeID string) *Manager {
	return NewManagerWithClient(enabled, slackWebhook, nodeID, &http.Client{Timeout: 10 * time.Second})
}

func NewManagerWithClient(enabled bool, slackWebhook, nodeID string, client HTTPClient) *Manager {
	return &Manager{
		enabled:      enabled,
		slackWebhook: slackWebhook,
		nodeID:       nodeID,
		httpClient:   client,
	}
}

func (m *Manager) active() bool {
	return m.enabled && m.slackWebhook != ""
}

// SendTaskFailureAlert reports a failed scheduled task run.
func (m *Manager) SendTaskFailureAlert(taskName, message string, taskErr error) error {
	if !m.active() {
		return nil
	}

	msg := slackMessage{
		Text: fmt.Sprintf("*TASK FAILED: %s*", taskName),
		Attachments: []slackAttachment{
			{
				Color: "danger",
				Title: message,
				Fields: []slackField{
					{Title: "Node", Value: m.nodeID, Short: true},
					{Title: "Task", Value: taskName, Short: true},
					{Title: "Error", Value: taskErr.Error(), Short: false},
				},
				Footer: "clusterlog scheduler",
				Ts:     time.Now().Unix(),
			},
		},
	}

	return m.sendSlackMessage(msg)
}

func (m *Manager) SendSystemAlert(title, message, severity string) error {
	if !m.active() {
		return nil
	}

	color := "danger"
	if severity == "warning" {
		color = "warning"
	} else if severity == "good" {
		color = "good"
	}

	msg := slackMessage{
		Text: fmt.Sprintf("*SYSTEM ALERT: %s*", title),
		Attachments: []slackAttachment{
			{
				Color: color,
				Title: title,
				Fields: []slackField{
					{Title: "Node", Value: m.nodeID, Short: true},
					{Title: "Message", Value: message, Short: false},
				},
				Footer: "clusterlog node",
				Ts:     time.Now().Unix(),
			},
		},
	}

	return m.sendSlackMessage(msg)
}

func (m *Manager) sendSlackMessage(msg slackMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal slack message: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, m.slackWebhook, bytes.NewBuffer(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send slack message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack returned non-200 status: %d", resp.StatusCode)
	}

	return nil
}
