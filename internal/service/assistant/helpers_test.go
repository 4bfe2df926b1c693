package assistant

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/sirupsen/logrus"

	"foliochat/internal/models"
	"foliochat/internal/worker"
)

func quietLogger() logrus.FieldLogger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// inlineExecutor runs jobs synchronously on Submit.
type inlineExecutor struct {
	mu        sync.Mutex
	submitted []worker.JobType
	cancelled []string
}

func (e *inlineExecutor) Submit(job worker.Job) error {
	e.mu.Lock()
	e.submitted = append(e.submitted, job.Type)
	e.mu.Unlock()
	job.Run(context.Background())
	return nil
}

func (e *inlineExecutor) Cancel(key string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancelled = append(e.cancelled, key)
}

func (e *inlineExecutor) count(t worker.JobType) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, typ := range e.submitted {
		if typ == t {
			n++
		}
	}
	return n
}

// heldExecutor keeps jobs until the test runs them.
type heldExecutor struct {
	mu   sync.Mutex
	jobs []worker.Job
}

func (e *heldExecutor) Submit(job worker.Job) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.jobs = append(e.jobs, job)
	return nil
}

func (e *heldExecutor) Cancel(string) {}

func (e *heldExecutor) run(i int) {
	e.mu.Lock()
	job := e.jobs[i]
	e.mu.Unlock()
	job.Run(context.Background())
}

type busyExecutor struct{}

func (busyExecutor) Submit(worker.Job) error { return worker.ErrDispatcherBusy }
func (busyExecutor) Cancel(string)           {}

type fakeProber struct {
	mu      sync.Mutex
	configs []models.EndpointConfig
	err     error
}

func (p *fakeProber) Probe(_ context.Context, cfg models.EndpointConfig) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.configs = append(p.configs, cfg)
	return p.err
}

func (p *fakeProber) calls() []models.EndpointConfig {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.EndpointConfig(nil), p.configs...)
}

type fakeModel struct {
	mu     sync.Mutex
	inputs [][]*schema.Message
	reply  func(ctx context.Context, input []*schema.Message) (string, error)
}

var _ model.BaseChatModel = (*fakeModel)(nil)

func echoModel() *fakeModel {
	return &fakeModel{reply: func(_ context.Context, input []*schema.Message) (string, error) {
		return "echo: " + input[len(input)-1].Content, nil
	}}
}

func failingModel(err error) *fakeModel {
	return &fakeModel{reply: func(context.Context, []*schema.Message) (string, error) { return "", err }}
}

func (m *fakeModel) Generate(ctx context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	m.mu.Lock()
	m.inputs = append(m.inputs, input)
	m.mu.Unlock()
	out, err := m.reply(ctx, input)
	if err != nil {
		return nil, err
	}
	return schema.AssistantMessage(out, nil), nil
}

func (m *fakeModel) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not supported")
}

func (m *fakeModel) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.inputs)
}

func (m *fakeModel) lastInput() []*schema.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.inputs) == 0 {
		return nil
	}
	return m.inputs[len(m.inputs)-1]
}

func staticFactory(m model.BaseChatModel) ModelFactory {
	return func(context.Context, models.EndpointConfig) (model.BaseChatModel, error) { return m, nil }
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	svc      *Service
	prober   *fakeProber
	model    *fakeModel
	executor *inlineExecutor
}

func newTestEnv(m *fakeModel, mutate ...func(*Options)) *testEnv {
	env := &testEnv{prober: &fakeProber{}, model: m, executor: &inlineExecutor{}}
	opts := Options{
		Prober:        env.prober,
		NewModel:      staticFactory(m),
		Executor:      env.executor,
		Logger:        quietLogger(),
		DefaultLocale: LocaleFrench,
	}
	for _, fn := range mutate {
		fn(&opts)
	}
	env.svc = NewService(opts)
	return env
}
