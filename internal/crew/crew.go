// Package crew runs an ordered set of tasks, each performed by an LLM agent, over the kickoff
// inputs. Every task sees the outputs of the tasks before it.
package crew

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/prompts"
	"github.com/tmc/langchaingo/schema"
	lctools "github.com/tmc/langchaingo/tools"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"bloodreport/internal/logging"
	"bloodreport/internal/tools"
)

var (
	ErrMissingInput  = errors.New("missing kickoff input")
	ErrEmptyResponse = errors.New("model returned no choices")
)

// Agent is an LLM persona.
type Agent struct {
	Key       string
	Role      prompts.PromptTemplate
	Goal      prompts.PromptTemplate
	Backstory prompts.PromptTemplate
}

type boundTool struct {
	tool  lctools.Tool
	input prompts.PromptTemplate
}

// Task is a unit of work assigned to an Agent.
type Task struct {
	Name           string
	Agent          Agent
	Description    prompts.PromptTemplate
	ExpectedOutput string
	tools          []boundTool
}

// TaskOutput is what one task produced.
type TaskOutput struct {
	Task     string        `json:"task"`
	Agent    string        `json:"agent"`
	Raw      string        `json:"raw"`
	Duration time.Duration `json:"duration"`
}

// Output is the result of a kickoff. Raw is the final task's output.
type Output struct {
	Raw   string       `json:"raw"`
	Tasks []TaskOutput `json:"tasks"`
}

func (o *Output) String() string {
	return o.Raw
}

// Crew runs its tasks sequentially against one model.
type Crew struct {
	model    llms.Model
	tasks    []Task
	inputs   []string
	callOpts []llms.CallOption
	log      *logging.Logger
	tracer   trace.Tracer
}

// Option configures a Crew.
type Option func(*Crew)

func WithTemperature(t float64) Option {
	return func(c *Crew) { c.callOpts = append(c.callOpts, llms.WithTemperature(t)) }
}

func WithMaxTokens(n int) Option {
	return func(c *Crew) { c.callOpts = append(c.callOpts, llms.WithMaxTokens(n)) }
}

func WithLogger(l *logging.Logger) Option {
	return func(c *Crew) { c.log = l }
}

// New binds a definition to a model and the available tools.
// Tools a task names but the registry lacks are skipped with a warning.
func New(model llms.Model, def *Definition, reg tools.Registry, opts ...Option) (*Crew, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}

	c := &Crew{
		model:  model,
		inputs: def.Inputs,
		log:    logging.Default(),
		tracer: otel.Tracer("bloodreport/crew"),
	}
	for _, o := range opts {
		o(c)
	}

	agents := make(map[string]Agent, len(def.Agents))
	for key, spec := range def.Agents {
		agents[key] = Agent{
			Key:       key,
			Role:      template(spec.Role, def.Inputs),
			Goal:      template(spec.Goal, def.Inputs),
			Backstory: template(spec.Backstory, def.Inputs),
		}
	}

	for _, spec := range def.Tasks {
		task := Task{
			Name:           spec.Name,
			Agent:          agents[spec.Agent],
			Description:    template(spec.Description, def.Inputs),
			ExpectedOutput: strings.TrimSpace(spec.ExpectedOutput),
		}
		for _, use := range spec.Tools {
			tool, ok := reg.Lookup(use.Name)
			if !ok {
				c.log.Log(map[string]any{
					"component": "crew",
					"event":     "tool_unavailable",
					"level":     "warn",
					"task":      spec.Name,
					"tool":      use.Name,
				})
				continue
			}
			task.tools = append(task.tools, boundTool{tool: tool, input: template(use.Input, def.Inputs)})
		}
		c.tasks = append(c.tasks, task)
	}

	return c, nil
}

func template(s string, inputs []string) prompts.PromptTemplate {
	return prompts.NewPromptTemplate(strings.TrimSpace(s), inputs)
}

// Tasks returns the task names in execution order.
func (c *Crew) Tasks() []string {
	names := make([]string, len(c.tasks))
	for i, t := range c.tasks {
		names[i] = t.Name
	}
	return names
}

// Kickoff runs every task in order. The first failing task aborts the run.
func (c *Crew) Kickoff(ctx context.Context, inputs map[string]string) (*Output, error) {
	values := make(map[string]any, len(inputs))
	for k, v := range inputs {
		values[k] = v
	}
	for _, name := range c.inputs {
		if _, ok := values[name]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingInput, name)
		}
	}

	out := &Output{Tasks: make([]TaskOutput, 0, len(c.tasks))}
	for _, task := range c.tasks {
		res, err := c.runTask(ctx, task, values, out.Tasks)
		if err != nil {
			return nil, fmt.Errorf("task %s: %w", task.Name, err)
		}
		out.Tasks = append(out.Tasks, res)
		out.Raw = res.Raw
	}
	return out, nil
}

func (c *Crew) runTask(ctx context.Context, task Task, values map[string]any, previous []TaskOutput) (TaskOutput, error) {
	ctx, span := c.tracer.Start(ctx, "crew.task "+task.Name, trace.WithAttributes(
		attribute.String("crew.task", task.Name),
		attribute.String("crew.agent", task.Agent.Key),
	))
	defer span.End()
	start := time.Now()

	system, err := systemPrompt(task.Agent, values)
	if err != nil {
		return TaskOutput{}, err
	}

	toolResults, err := c.callTools(ctx, task, values)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return TaskOutput{}, err
	}

	human, err := taskPrompt(task, values, toolResults, previous)
	if err != nil {
		return TaskOutput{}, err
	}

	resp, err := c.model.GenerateContent(ctx, []llms.MessageContent{
		llms.TextParts(schema.ChatMessageTypeSystem, system),
		llms.TextParts(schema.ChatMessageTypeHuman, human),
	}, c.callOpts...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return TaskOutput{}, err
	}
	if resp == nil || len(resp.Choices) == 0 {
		span.SetStatus(codes.Error, ErrEmptyResponse.Error())
		return TaskOutput{}, ErrEmptyResponse
	}

	res := TaskOutput{
		Task:     task.Name,
		Agent:    task.Agent.Key,
		Raw:      strings.TrimSpace(resp.Choices[0].Content),
		Duration: time.Since(start),
	}
	c.log.Log(map[string]any{
		"component":   "crew",
		"event":       "task_completed",
		"status":      "success",
		"task":        task.Name,
		"agent":       task.Agent.Key,
		"tools":       len(task.tools),
		"duration_ms": res.Duration.Milliseconds(),
	})
	return res, nil
}

type toolResult struct {
	name   string
	output string
}

func (c *Crew) callTools(ctx context.Context, task Task, values map[string]any) ([]toolResult, error) {
	results := make([]toolResult, 0, len(task.tools))
	for _, bt := range task.tools {
		input, err := bt.input.Format(values)
		if err != nil {
			return nil, fmt.Errorf("render %s input: %w", bt.tool.Name(), err)
		}
		output, err := bt.tool.Call(ctx, input)
		if err != nil {
			// The agent is told the tool failed and answers without it.
			c.log.Log(map[string]any{
				"component": "crew",
				"event":     "tool_failed",
				"level":     "warn",
				"task":      task.Name,
				"tool":      bt.tool.Name(),
				"error":     err.Error(),
			})
			output = fmt.Sprintf("Error using tool %s: %v", bt.tool.Name(), err)
		}
		results = append(results, toolResult{name: bt.tool.Name(), output: output})
	}
	return results, nil
}
