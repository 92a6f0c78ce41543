// Package manager 封装管理端 HTTP API 的只读客户端。
// 场景、步骤、步骤消息都从这里取；写操作归管理后台，不在本服务范围内。
package manager

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"kidtalk/internal/model"
)

var (
	// ErrNoScenario 没有任何可用的教学场景。
	ErrNoScenario = errors.New("no teaching scenario available")
	// ErrRemote 管理端返回业务错误（code != 0）。
	ErrRemote = errors.New("manager api business error")
)

// Config 客户端参数；零值字段取默认。
type Config struct {
	BaseURL  string
	Secret   string
	Username string
	Password string
	// Timeout 单次请求硬超时，默认 30s。
	Timeout time.Duration
	// MaxRetries 连接错误与 5xx 的最大重试次数，默认 6。
	MaxRetries int
	// RetryDelay 重试间隔，默认 10s。
	RetryDelay time.Duration
	// DefaultTimeoutSeconds 步骤未配置 timeoutSeconds 时的默认等待时间。
	DefaultTimeoutSeconds int
}

// Client 管理端 API 客户端。连接池可跨设备共享，方法并发安全。
type Client struct {
	baseURL    string
	httpClient *http.Client
	cfg        Config
	logger     *log.Logger

	// token 登录换取的用户凭证；secret 配置时优先用 secret。
	tokenMu sync.Mutex
	token   string
}

// New 创建客户端。超时与重试策略挂在这个句柄上，而不是包级函数。
func New(cfg Config, logger *log.Logger) *Client {
	if logger == nil {
		logger = log.Default()
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 6
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = 10 * time.Second
	}
	if cfg.DefaultTimeoutSeconds == 0 {
		cfg.DefaultTimeoutSeconds = 20
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		cfg:    cfg,
		logger: logger,
	}
}

// envelope 管理端统一响应包装，code == 0 表示成功。
type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func (c *Client) bearer() string {
	if c.cfg.Secret != "" {
		return c.cfg.Secret
	}
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()
	return c.token
}

// login 用账号密码换取用户 token。
func (c *Client) login(ctx context.Context) error {
	body := map[string]string{
		"username": c.cfg.Username,
		"password": c.cfg.Password,
		"captcha":  "123456",
	}
	var data struct {
		Token       string `json:"token"`
		AccessToken string `json:"accessToken"`
	}
	if err := c.doOnce(ctx, http.MethodPost, "/auth/login", nil, body, &data, false); err != nil {
		return fmt.Errorf("login: %w", err)
	}

	token := data.AccessToken
	if token == "" {
		token = data.Token
	}
	if token == "" {
		return fmt.Errorf("login: %w: empty token in response", ErrRemote)
	}

	c.tokenMu.Lock()
	c.token = token
	c.tokenMu.Unlock()
	return nil
}

// doOnce 发送单次请求并解包响应。auth 为 true 时带 bearer，
// 遇到 401 只重新登录一次并重放原请求。
func (c *Client) doOnce(ctx context.Context, method, path string, query url.Values, body, out any, auth bool) error {
	reauthed := false
	for {
		status, err := c.roundTrip(ctx, method, path, query, body, out, auth)
		if status == http.StatusUnauthorized && auth && !reauthed && c.cfg.Username != "" {
			reauthed = true
			c.logger.Printf("[Manager] 401 on %s %s, re-authenticating once", method, path)
			if lerr := c.login(ctx); lerr != nil {
				return lerr
			}
			continue
		}
		return err
	}
}

func (c *Client) roundTrip(ctx context.Context, method, path string, query url.Values, body, out any, auth bool) (int, error) {
	u := c.baseURL + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth {
		if token := c.bearer(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, &transportError{err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return resp.StatusCode, &statusError{status: resp.StatusCode}
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return resp.StatusCode, fmt.Errorf("decode response: %w", err)
	}
	if env.Code != 0 {
		return resp.StatusCode, fmt.Errorf("%w: code=%d msg=%s", ErrRemote, env.Code, env.Msg)
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode data: %w", err)
		}
	}
	return resp.StatusCode, nil
}

type transportError struct{ err error }

func (e *transportError) Error() string { return "transport: " + e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

type statusError struct{ status int }

func (e *statusError) Error() string { return fmt.Sprintf("http status %d", e.status) }

// retryable 网络错误和部分状态码值得重试，业务错误不重试。
func retryable(err error) bool {
	var te *transportError
	if errors.As(err, &te) {
		return true
	}
	var se *statusError
	if errors.As(err, &se) {
		switch se.status {
		case http.StatusRequestTimeout, http.StatusTooManyRequests,
			http.StatusInternalServerError, http.StatusBadGateway,
			http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		}
	}
	return false
}

// do 带重试的请求执行器：固定间隔，至多 MaxRetries 次。
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = c.doOnce(ctx, method, path, query, body, out, true)
		if err == nil || attempt >= c.cfg.MaxRetries || !retryable(err) {
			return err
		}

		c.logger.Printf("[Manager] %s %s failed (%v), retry %d/%d in %v",
			method, path, err, attempt+1, c.cfg.MaxRetries, c.cfg.RetryDelay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.cfg.RetryDelay):
		}
	}
}

// ServerBase 服务器基础配置引导。
func (c *Client) ServerBase(ctx context.Context) (map[string]any, error) {
	var data map[string]any
	if err := c.do(ctx, http.MethodPost, "/config/server-base", nil, nil, &data); err != nil {
		return nil, fmt.Errorf("server-base: %w", err)
	}
	return data, nil
}

// DefaultTeachingScenario 返回默认教学场景：优先取 is_default_teaching 标记，
// 其次取第一个启用的场景，都没有时返回 ErrNoScenario。
func (c *Client) DefaultTeachingScenario(ctx context.Context, agentID string) (*model.Scenario, error) {
	scenarios, err := c.listScenarios(ctx, agentID, false)
	if err != nil {
		return nil, err
	}
	for i := range scenarios {
		if scenarios[i].IsDefaultTeaching {
			return &scenarios[i], nil
		}
	}

	active, err := c.listScenarios(ctx, agentID, true)
	if err != nil {
		return nil, err
	}
	for i := range active {
		if active[i].IsActive {
			return &active[i], nil
		}
	}
	return nil, ErrNoScenario
}

func (c *Client) listScenarios(ctx context.Context, agentID string, activeOnly bool) ([]model.Scenario, error) {
	query := url.Values{}
	query.Set("page", "1")
	query.Set("limit", "100")
	if agentID != "" {
		query.Set("agentId", agentID)
	}
	if activeOnly {
		query.Set("isActive", "1")
	}

	var data struct {
		List []scenarioDTO `json:"list"`
	}
	if err := c.do(ctx, http.MethodGet, "/scenario/list", query, nil, &data); err != nil {
		return nil, fmt.Errorf("scenario list: %w", err)
	}

	out := make([]model.Scenario, 0, len(data.List))
	for _, dto := range data.List {
		out = append(out, dto.toModel())
	}
	return out, nil
}

// Scenario 按 id 取单个场景。
func (c *Client) Scenario(ctx context.Context, scenarioID string) (*model.Scenario, error) {
	var dto scenarioDTO
	if err := c.do(ctx, http.MethodGet, "/scenario/"+scenarioID, nil, nil, &dto); err != nil {
		return nil, fmt.Errorf("scenario %s: %w", scenarioID, err)
	}
	s := dto.toModel()
	return &s, nil
}

// ScenarioSteps 返回场景步骤，按 order 升序。
func (c *Client) ScenarioSteps(ctx context.Context, scenarioID string) ([]model.Step, error) {
	var dtos []stepDTO
	if err := c.do(ctx, http.MethodGet, "/scenario-step/list/"+scenarioID, nil, nil, &dtos); err != nil {
		return nil, fmt.Errorf("scenario steps %s: %w", scenarioID, err)
	}

	steps := make([]model.Step, 0, len(dtos))
	for _, dto := range dtos {
		steps = append(steps, dto.toModel(c.cfg.DefaultTimeoutSeconds))
	}
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].Order < steps[j].Order })
	return steps, nil
}

// StepMessages 返回步骤的播报消息列表，可能为空。
func (c *Client) StepMessages(ctx context.Context, stepID string) ([]model.StepMessage, error) {
	var dtos []stepMessageDTO
	if err := c.do(ctx, http.MethodGet, "/step/"+stepID+"/messages", nil, nil, &dtos); err != nil {
		return nil, fmt.Errorf("step messages %s: %w", stepID, err)
	}

	msgs := make([]model.StepMessage, 0, len(dtos))
	for _, dto := range dtos {
		msgs = append(msgs, dto.toModel())
	}
	return msgs, nil
}
