package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"go.uber.org/zap"

	"hyperlapse/models"
)

// Invoker is the subset of the Lambda client used by RemoteBackend.
// *lambda.Client satisfies it.
type Invoker interface {
	Invoke(ctx context.Context, params *lambda.InvokeInput, optFns ...func(*lambda.Options)) (*lambda.InvokeOutput, error)
}

// LambdaOptions configures the Lambda client built by NewLambdaClient.
type LambdaOptions struct {
	Region         string
	Timeout        time.Duration
	ConnectTimeout time.Duration
}

// NewLambdaClient builds a Lambda client with retries disabled. A render can
// run for many minutes, so the request timeout must cover a whole job.
func NewLambdaClient(ctx context.Context, opts LambdaOptions) (*lambda.Client, error) {
	httpClient := awshttp.NewBuildableClient().
		WithTimeout(opts.Timeout).
		WithDialerOptions(func(d *net.Dialer) {
			d.Timeout = opts.ConnectTimeout
		})

	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(opts.Region),
		awsconfig.WithRetryMaxAttempts(1),
		awsconfig.WithHTTPClient(httpClient),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return lambda.NewFromConfig(cfg), nil
}

// RemoteBackend invokes the compute backend as a remote function.
//
// The backend reports progress by connecting to callbackEndpoint and sending
// messages addressed by job key, so Invoke never calls OnProgress itself.
// Remote jobs cannot be cancelled once sent.
type RemoteBackend struct {
	client           Invoker
	functionName     string
	callbackEndpoint string
	logger           *zap.Logger
}

// NewRemoteBackend creates a backend calling functionName through client
func NewRemoteBackend(client Invoker, functionName, callbackEndpoint string, logger *zap.Logger) *RemoteBackend {
	return &RemoteBackend{
		client:           client,
		functionName:     functionName,
		callbackEndpoint: callbackEndpoint,
		logger:           logger,
	}
}

func (b *RemoteBackend) Name() string { return "lambda" }

func (b *RemoteBackend) SupportsOptimizer() bool { return true }

type invokePayload struct {
	Key              string           `json:"key"`
	Args             []string         `json:"args"`
	Contents         string           `json:"contents"`
	Extension        models.Extension `json:"extension"`
	UseOptimizer     bool             `json:"useOptimizer"`
	CallbackEndpoint string           `json:"callbackEndpoint"`
	Index            *int             `json:"index,omitempty"`
	UploadRegion     string           `json:"uploadRegion,omitempty"`
}

type joinPayload struct {
	Key          string   `json:"key"`
	JoinVideos   bool     `json:"joinVideos"`
	VideoURLs    []string `json:"videoUrls"`
	UploadRegion string   `json:"uploadRegion,omitempty"`
}

// Invoke sends one job and waits for the function's response.
func (b *RemoteBackend) Invoke(ctx context.Context, inv Invocation) (*models.ChunkResult, error) {
	if err := inv.Validate(); err != nil {
		return nil, &InvocationError{Op: "invoke", Key: inv.Key, ExitCode: -1, Reason: "invalid invocation", Err: err}
	}

	payload := invokePayload{
		Key:              inv.Key.ID,
		Args:             inv.Args,
		Contents:         inv.Contents,
		Extension:        inv.Extension,
		UseOptimizer:     inv.UseOptimizer,
		CallbackEndpoint: b.callbackEndpoint,
		Index:            inv.Key.IndexPtr(),
		UploadRegion:     inv.UploadRegion,
	}

	resp, err := b.call(ctx, "invoke", inv.Key, payload)
	if err != nil {
		return nil, err
	}

	if resp.MetadataResult == nil {
		return nil, &InvocationError{Op: "invoke", Key: inv.Key, ExitCode: -1, Reason: "response has no metadata"}
	}
	result := &models.ChunkResult{Metadata: resp.MetadataResult}
	if inv.Build {
		if resp.VideoResult == nil || resp.VideoResult.URL == "" {
			return nil, &InvocationError{Op: "invoke", Key: inv.Key, ExitCode: -1, Reason: "response has no video"}
		}
		result.VideoLocation = resp.VideoResult.URL
	}
	return result, nil
}

// Join asks the function to concatenate already uploaded chunk videos.
func (b *RemoteBackend) Join(ctx context.Context, req JoinRequest) (*models.ChunkResult, error) {
	if err := req.Validate(); err != nil {
		return nil, &InvocationError{Op: "join", Key: req.Key, ExitCode: -1, Reason: "invalid join", Err: err}
	}

	payload := joinPayload{
		Key:          req.Key.ID,
		JoinVideos:   true,
		VideoURLs:    req.VideoLocations,
		UploadRegion: req.UploadRegion,
	}

	resp, err := b.call(ctx, "join", req.Key, payload)
	if err != nil {
		return nil, err
	}
	if resp.VideoResult == nil || resp.VideoResult.URL == "" {
		return nil, &InvocationError{Op: "join", Key: req.Key, ExitCode: -1, Reason: "response has no video"}
	}
	return &models.ChunkResult{VideoLocation: resp.VideoResult.URL}, nil
}

// call invokes the function and interprets its response.
//
// Checks run in this order: an explicit error field in the body, then a
// failed function status, then an unparsable body. A 200 status alone does
// not mean the job succeeded.
func (b *RemoteBackend) call(ctx context.Context, op string, key models.JobKey, payload any) (*remoteResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &InvocationError{Op: op, Key: key, ExitCode: -1, Reason: "encode payload", Err: err}
	}

	b.logger.Info("invoking function",
		zap.String("op", op),
		zap.Stringer("key", key),
		zap.String("function", b.functionName))

	out, err := b.client.Invoke(ctx, &lambda.InvokeInput{
		FunctionName: aws.String(b.functionName),
		Payload:      body,
	})
	if err != nil {
		return nil, &InvocationError{Op: op, Key: key, ExitCode: -1, Reason: "invoke call failed", Err: err}
	}

	resp, envelopeStatus, parseErr := parseResponse(out.Payload)

	if resp != nil && resp.Error != nil {
		return nil, &InvocationError{Op: op, Key: key, ExitCode: -1, Reason: "backend reported an error", Err: errors.New(*resp.Error)}
	}
	if out.StatusCode != 200 || out.FunctionError != nil {
		functionError := ""
		if out.FunctionError != nil {
			functionError = *out.FunctionError
		}
		return nil, &InvocationError{
			Op:       op,
			Key:      key,
			ExitCode: -1,
			Reason:   fmt.Sprintf("function call failed with code %d: %s", out.StatusCode, functionError),
		}
	}
	if envelopeStatus != 0 && envelopeStatus != 200 {
		return nil, &InvocationError{Op: op, Key: key, ExitCode: -1, Reason: fmt.Sprintf("function returned status %d", envelopeStatus)}
	}
	if resp == nil {
		return nil, &InvocationError{Op: op, Key: key, ExitCode: -1, Reason: "could not parse response", Err: parseErr}
	}

	b.logger.Info("function finished", zap.String("op", op), zap.Stringer("key", key))
	return resp, nil
}

type responseEnvelope struct {
	StatusCode int             `json:"statusCode"`
	Body       json.RawMessage `json:"body"`
}

// parseResponse unwraps the function payload. The usual shape is an HTTP
// style envelope whose body is the response encoded as a JSON string; a body
// holding the object directly, or a bare response object, is accepted too.
func parseResponse(payload []byte) (*remoteResponse, int, error) {
	if len(payload) == 0 {
		return nil, 0, fmt.Errorf("empty payload")
	}

	var envelope responseEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, 0, fmt.Errorf("failed to parse payload: %w", err)
	}

	inner := payload
	if len(envelope.Body) > 0 {
		inner = envelope.Body
		var encoded string
		if err := json.Unmarshal(envelope.Body, &encoded); err == nil {
			inner = []byte(encoded)
		}
	}

	var resp remoteResponse
	if err := json.Unmarshal(inner, &resp); err != nil {
		return nil, envelope.StatusCode, fmt.Errorf("failed to parse body: %w", err)
	}
	return &resp, envelope.StatusCode, nil
}
