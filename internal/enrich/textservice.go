package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"voice-dictation-pipeline/internal/config"
)

// cleanupSystemPrompt instructs the model to correct recognition errors and
// tag schedule/to-do spans with the inline marker convention the extraction
// queues parse.
const cleanupSystemPrompt = "你是一个语音转写文本的整理助手。修正识别错误、补全标点，保持原意不变。" +
	"如果文本中包含日程安排，用 [SCHEDULE: 日程内容] 标记；" +
	"如果包含待办事项，用 [TODO: 事项 | deadline: 截止时间 | priority: high/medium/low] 标记。" +
	"只输出整理后的文本，不要任何解释。"

// TextCleaner is the cleanup dependency of the cleanup queue worker.
type TextCleaner interface {
	Cleanup(ctx context.Context, raw string) (string, error)
}

// TextService calls an OpenAI-compatible chat completion endpoint to clean
// up raw transcripts.
type TextService struct {
	endpoint   string
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewTextService builds a client from the enrichment configuration. The
// service timeout bounds every call, including retries by callers.
func NewTextService(cfg config.EnrichmentConfig) *TextService {
	return &TextService{
		endpoint: strings.TrimRight(cfg.ServiceEndpoint, "/") + "/chat/completions",
		apiKey:   cfg.ServiceAPIKey,
		model:    cfg.ServiceModel,
		httpClient: &http.Client{
			Timeout: cfg.ServiceTimeout,
		},
	}
}

// Cleanup sends raw text through the model and returns the cleaned, marked
// text. Errors are classified as ServiceTimeout or ServiceFailure.
func (s *TextService) Cleanup(ctx context.Context, raw string) (string, error) {
	payload := map[string]any{
		"model": s.model,
		"messages": []map[string]string{
			{"role": "system", "content": cleanupSystemPrompt},
			{"role": "user", "content": raw},
		},
		"temperature": 0.2,
	}

	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(payload); err != nil {
		return "", NewError(ServiceFailure, fmt.Errorf("encode cleanup payload: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, buf)
	if err != nil {
		return "", NewError(ServiceFailure, fmt.Errorf("create cleanup request: %w", err))
	}
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return "", NewError(ServiceTimeout, err)
		}
		return "", NewError(ServiceFailure, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return "", NewError(ServiceFailure, decodeAPIError(resp))
	}

	var response struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return "", NewError(ServiceFailure, fmt.Errorf("decode cleanup response: %w", err))
	}
	if len(response.Choices) == 0 {
		return "", NewError(ServiceFailure, errors.New("no completion returned"))
	}

	cleaned := strings.TrimSpace(response.Choices[0].Message.Content)
	if cleaned == "" {
		return "", NewError(ServiceFailure, errors.New("empty completion"))
	}
	return cleaned, nil
}

func isTimeout(err error) bool {
	var nerr interface{ Timeout() bool }
	return errors.As(err, &nerr) && nerr.Timeout()
}

func decodeAPIError(resp *http.Response) error {
	var apiErr struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Message != "" {
		return fmt.Errorf("text service: status %d type %s message %s",
			resp.StatusCode, apiErr.Error.Type, apiErr.Error.Message)
	}
	return fmt.Errorf("text service: status %d", resp.StatusCode)
}
