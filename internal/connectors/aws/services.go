package aws

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/glue"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/aws/aws-sdk-go-v2/service/sagemaker"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/open-sspm/opsdash/internal/connectors/connerr"
	"github.com/open-sspm/opsdash/internal/connectors/restapi"
	"github.com/open-sspm/opsdash/internal/connectors/runstatus"
)

type LambdaAPI interface {
	ListFunctions(context.Context, *lambda.ListFunctionsInput, ...func(*lambda.Options)) (*lambda.ListFunctionsOutput, error)
	Invoke(context.Context, *lambda.InvokeInput, ...func(*lambda.Options)) (*lambda.InvokeOutput, error)
}

type GlueAPI interface {
	GetJobs(context.Context, *glue.GetJobsInput, ...func(*glue.Options)) (*glue.GetJobsOutput, error)
	StartJobRun(context.Context, *glue.StartJobRunInput, ...func(*glue.Options)) (*glue.StartJobRunOutput, error)
	GetJobRun(context.Context, *glue.GetJobRunInput, ...func(*glue.Options)) (*glue.GetJobRunOutput, error)
}

type SageMakerAPI interface {
	ListNotebookInstances(context.Context, *sagemaker.ListNotebookInstancesInput, ...func(*sagemaker.Options)) (*sagemaker.ListNotebookInstancesOutput, error)
	ListEndpoints(context.Context, *sagemaker.ListEndpointsInput, ...func(*sagemaker.Options)) (*sagemaker.ListEndpointsOutput, error)
}

type LogsAPI interface {
	FilterLogEvents(context.Context, *cloudwatchlogs.FilterLogEventsInput, ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.FilterLogEventsOutput, error)
}

type STSAPI interface {
	GetCallerIdentity(context.Context, *sts.GetCallerIdentityInput, ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

type Function struct {
	Name         string `json:"name"`
	Runtime      string `json:"runtime,omitempty"`
	Handler      string `json:"handler,omitempty"`
	CodeSize     int64  `json:"code_size"`
	MemorySize   int32  `json:"memory_size,omitempty"`
	Timeout      int32  `json:"timeout,omitempty"`
	LastModified string `json:"last_modified,omitempty"`
}

type InvokeResult struct {
	StatusCode      int32           `json:"status_code"`
	FunctionError   string          `json:"function_error,omitempty"`
	ExecutedVersion string          `json:"executed_version,omitempty"`
	Payload         restapi.Decoded `json:"payload"`
}

type GlueJob struct {
	Name            string     `json:"name"`
	Role            string     `json:"role,omitempty"`
	GlueVersion     string     `json:"glue_version,omitempty"`
	WorkerType      string     `json:"worker_type,omitempty"`
	NumberOfWorkers int32      `json:"number_of_workers,omitempty"`
	CreatedOn       *time.Time `json:"created_on,omitempty"`
	LastModifiedOn  *time.Time `json:"last_modified_on,omitempty"`
}

type NotebookInstance struct {
	Name         string     `json:"name"`
	Status       string     `json:"status"`
	InstanceType string     `json:"instance_type,omitempty"`
	URL          string     `json:"url,omitempty"`
	CreatedAt    *time.Time `json:"created_at,omitempty"`
}

type Endpoint struct {
	Name           string     `json:"name"`
	Status         string     `json:"status"`
	CreatedAt      *time.Time `json:"created_at,omitempty"`
	LastModifiedAt *time.Time `json:"last_modified_at,omitempty"`
}

// LogQuery selects CloudWatch log events. StartMs and EndMs are epoch
// milliseconds; zero leaves the bound open.
type LogQuery struct {
	Group   string
	Stream  string
	Pattern string
	StartMs int64
	EndMs   int64
	Limit   int
}

// LogEvent timestamps are epoch milliseconds exactly as CloudWatch reports them.
type LogEvent struct {
	EventID       string `json:"event_id,omitempty"`
	Stream        string `json:"log_stream_name,omitempty"`
	Timestamp     int64  `json:"timestamp"`
	IngestionTime int64  `json:"ingestion_time"`
	Message       string `json:"message"`
}

type Identity struct {
	Account string `json:"account"`
	ARN     string `json:"arn"`
	UserID  string `json:"user_id"`
}

func (c *Client) ListFunctions(ctx context.Context, maxItems int) ([]Function, error) {
	api, err := handle[LambdaAPI](ctx, c, ServiceLambda)
	if err != nil {
		return nil, err
	}
	p := lambda.NewListFunctionsPaginator(api, &lambda.ListFunctionsInput{MaxItems: aws.Int32(pageSize(maxItems, 50))})
	return drain(ctx, maxItems, p.HasMorePages, func(ctx context.Context) ([]Function, error) {
		start := time.Now()
		page, err := p.NextPage(ctx)
		if err := c.observe(ctx, "lambda.ListFunctions", "lambda://", start, err); err != nil {
			return nil, err
		}
		out := make([]Function, 0, len(page.Functions))
		for _, f := range page.Functions {
			out = append(out, Function{
				Name:         aws.ToString(f.FunctionName),
				Runtime:      string(f.Runtime),
				Handler:      aws.ToString(f.Handler),
				CodeSize:     f.CodeSize,
				MemorySize:   aws.ToInt32(f.MemorySize),
				Timeout:      aws.ToInt32(f.Timeout),
				LastModified: aws.ToString(f.LastModified),
			})
		}
		return out, nil
	})
}

// Invoke calls a function. invocationType defaults to RequestResponse.
func (c *Client) Invoke(ctx context.Context, name string, payload any, invocationType string) (InvokeResult, error) {
	kind := lambdatypes.InvocationType(strings.TrimSpace(invocationType))
	if kind == "" {
		kind = lambdatypes.InvocationTypeRequestResponse
	}
	switch kind {
	case lambdatypes.InvocationTypeRequestResponse, lambdatypes.InvocationTypeEvent, lambdatypes.InvocationTypeDryRun:
	default:
		return InvokeResult{}, &connerr.ConfigurationError{Vendor: Kind, Invalid: map[string]string{"invocation_type": string(kind)}}
	}

	var body []byte
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return InvokeResult{}, err
		}
		body = b
	}

	api, err := handle[LambdaAPI](ctx, c, ServiceLambda)
	if err != nil {
		return InvokeResult{}, err
	}
	start := time.Now()
	resp, err := api.Invoke(ctx, &lambda.InvokeInput{
		FunctionName:   aws.String(name),
		Payload:        body,
		InvocationType: kind,
	})
	if err := c.observe(ctx, "lambda.Invoke", "lambda://"+name, start, err); err != nil {
		return InvokeResult{}, err
	}
	res := InvokeResult{
		StatusCode:      resp.StatusCode,
		FunctionError:   aws.ToString(resp.FunctionError),
		ExecutedVersion: aws.ToString(resp.ExecutedVersion),
		Payload:         restapi.Decode(resp.Payload),
	}
	if res.FunctionError != "" {
		slog.Warn("lambda function returned an error", "function", name, "function_error", res.FunctionError)
	}
	return res, nil
}

func (c *Client) ListGlueJobs(ctx context.Context, maxItems int) ([]GlueJob, error) {
	api, err := handle[GlueAPI](ctx, c, ServiceGlue)
	if err != nil {
		return nil, err
	}
	p := glue.NewGetJobsPaginator(api, &glue.GetJobsInput{MaxResults: aws.Int32(pageSize(maxItems, 1000))})
	return drain(ctx, maxItems, p.HasMorePages, func(ctx context.Context) ([]GlueJob, error) {
		start := time.Now()
		page, err := p.NextPage(ctx)
		if err := c.observe(ctx, "glue.GetJobs", "glue://", start, err); err != nil {
			return nil, err
		}
		out := make([]GlueJob, 0, len(page.Jobs))
		for _, j := range page.Jobs {
			out = append(out, GlueJob{
				Name:            aws.ToString(j.Name),
				Role:            aws.ToString(j.Role),
				GlueVersion:     aws.ToString(j.GlueVersion),
				WorkerType:      string(j.WorkerType),
				NumberOfWorkers: aws.ToInt32(j.NumberOfWorkers),
				CreatedOn:       utc(j.CreatedOn),
				LastModifiedOn:  utc(j.LastModifiedOn),
			})
		}
		return out, nil
	})
}

// StartJobRun starts a Glue job and returns the run id.
func (c *Client) StartJobRun(ctx context.Context, job string, args map[string]string) (string, error) {
	api, err := handle[GlueAPI](ctx, c, ServiceGlue)
	if err != nil {
		return "", err
	}
	in := &glue.StartJobRunInput{JobName: aws.String(job)}
	if len(args) > 0 {
		in.Arguments = args
	}
	start := time.Now()
	resp, err := api.StartJobRun(ctx, in)
	if err := c.observe(ctx, "glue.StartJobRun", "glue://"+job, start, err); err != nil {
		return "", err
	}
	runID := aws.ToString(resp.JobRunId)
	slog.Info("glue job run started", "job", job, "run_id", runID)
	return runID, nil
}

// JobRunStatus reads one Glue job run and normalizes its state.
func (c *Client) JobRunStatus(ctx context.Context, job, runID string) (runstatus.RunStatus, error) {
	api, err := handle[GlueAPI](ctx, c, ServiceGlue)
	if err != nil {
		return runstatus.RunStatus{}, err
	}
	start := time.Now()
	resp, err := api.GetJobRun(ctx, &glue.GetJobRunInput{JobName: aws.String(job), RunId: aws.String(runID)})
	if err := c.observe(ctx, "glue.GetJobRun", "glue://"+job+"/"+runID, start, err); err != nil {
		return runstatus.RunStatus{}, err
	}
	rec := runstatus.Record{ID: runID}
	if run := resp.JobRun; run != nil {
		rec.RawStatus = string(run.JobRunState)
		rec.StartedAt = utc(run.StartedOn)
		rec.FinishedAt = utc(run.CompletedOn)
		rec.ErrorMessage = aws.ToString(run.ErrorMessage)
	}
	return c.NormalizeStatus(rec), nil
}

func (c *Client) NormalizeStatus(rec runstatus.Record) runstatus.RunStatus {
	return runstatus.Glue.Normalize(rec)
}

func (c *Client) WaitForJobRun(ctx context.Context, job, runID string, timeout, pollInterval time.Duration) (runstatus.RunStatus, error) {
	p := runstatus.Poller{
		Vendor: Kind,
		Now:    c.Now,
		Sleep:  c.Sleep,
		Status: func(ctx context.Context, id string) (runstatus.RunStatus, error) {
			return c.JobRunStatus(ctx, job, id)
		},
	}
	return p.Wait(ctx, runID, timeout, pollInterval)
}

func (c *Client) ListNotebookInstances(ctx context.Context, maxItems int) ([]NotebookInstance, error) {
	api, err := handle[SageMakerAPI](ctx, c, ServiceSageMaker)
	if err != nil {
		return nil, err
	}
	p := sagemaker.NewListNotebookInstancesPaginator(api, &sagemaker.ListNotebookInstancesInput{MaxResults: aws.Int32(pageSize(maxItems, 100))})
	return drain(ctx, maxItems, p.HasMorePages, func(ctx context.Context) ([]NotebookInstance, error) {
		start := time.Now()
		page, err := p.NextPage(ctx)
		if err := c.observe(ctx, "sagemaker.ListNotebookInstances", "sagemaker://notebooks", start, err); err != nil {
			return nil, err
		}
		out := make([]NotebookInstance, 0, len(page.NotebookInstances))
		for _, n := range page.NotebookInstances {
			out = append(out, NotebookInstance{
				Name:         aws.ToString(n.NotebookInstanceName),
				Status:       string(n.NotebookInstanceStatus),
				InstanceType: string(n.InstanceType),
				URL:          aws.ToString(n.Url),
				CreatedAt:    utc(n.CreationTime),
			})
		}
		return out, nil
	})
}

func (c *Client) ListEndpoints(ctx context.Context, maxItems int) ([]Endpoint, error) {
	api, err := handle[SageMakerAPI](ctx, c, ServiceSageMaker)
	if err != nil {
		return nil, err
	}
	p := sagemaker.NewListEndpointsPaginator(api, &sagemaker.ListEndpointsInput{MaxResults: aws.Int32(pageSize(maxItems, 100))})
	return drain(ctx, maxItems, p.HasMorePages, func(ctx context.Context) ([]Endpoint, error) {
		start := time.Now()
		page, err := p.NextPage(ctx)
		if err := c.observe(ctx, "sagemaker.ListEndpoints", "sagemaker://endpoints", start, err); err != nil {
			return nil, err
		}
		out := make([]Endpoint, 0, len(page.Endpoints))
		for _, e := range page.Endpoints {
			out = append(out, Endpoint{
				Name:           aws.ToString(e.EndpointName),
				Status:         string(e.EndpointStatus),
				CreatedAt:      utc(e.CreationTime),
				LastModifiedAt: utc(e.LastModifiedTime),
			})
		}
		return out, nil
	})
}

// FilterLogEvents returns up to q.Limit matching events in CloudWatch order.
func (c *Client) FilterLogEvents(ctx context.Context, q LogQuery) ([]LogEvent, error) {
	api, err := handle[LogsAPI](ctx, c, ServiceLogs)
	if err != nil {
		return nil, err
	}
	in := &cloudwatchlogs.FilterLogEventsInput{
		LogGroupName: aws.String(q.Group),
		Limit:        aws.Int32(pageSize(q.Limit, 10000)),
	}
	if q.Stream != "" {
		in.LogStreamNames = []string{q.Stream}
	}
	if q.Pattern != "" {
		in.FilterPattern = aws.String(q.Pattern)
	}
	if q.StartMs > 0 {
		in.StartTime = aws.Int64(q.StartMs)
	}
	if q.EndMs > 0 {
		in.EndTime = aws.Int64(q.EndMs)
	}
	p := cloudwatchlogs.NewFilterLogEventsPaginator(api, in)
	return drain(ctx, q.Limit, p.HasMorePages, func(ctx context.Context) ([]LogEvent, error) {
		start := time.Now()
		page, err := p.NextPage(ctx)
		if err := c.observe(ctx, "logs.FilterLogEvents", "logs://"+q.Group, start, err); err != nil {
			return nil, err
		}
		out := make([]LogEvent, 0, len(page.Events))
		for _, e := range page.Events {
			out = append(out, LogEvent{
				EventID:       aws.ToString(e.EventId),
				Stream:        aws.ToString(e.LogStreamName),
				Timestamp:     aws.ToInt64(e.Timestamp),
				IngestionTime: aws.ToInt64(e.IngestionTime),
				Message:       aws.ToString(e.Message),
			})
		}
		return out, nil
	})
}

func (c *Client) AccountInfo(ctx context.Context) (Identity, error) {
	api, err := handle[STSAPI](ctx, c, ServiceSTS)
	if err != nil {
		return Identity{}, err
	}
	start := time.Now()
	resp, err := api.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err := c.observe(ctx, "sts.GetCallerIdentity", "sts://", start, err); err != nil {
		return Identity{}, err
	}
	return Identity{
		Account: aws.ToString(resp.Account),
		ARN:     aws.ToString(resp.Arn),
		UserID:  aws.ToString(resp.UserId),
	}, nil
}
