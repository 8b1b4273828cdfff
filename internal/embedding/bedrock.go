package embedding

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/codepromptu/codepromptu/internal/config"
)

const defaultTitanModel = "amazon.titan-embed-text-v2:0"

// bedrockBackend calls Amazon Titan embeddings through the Bedrock runtime.
// Auth is SigV4 via the SDK's default credential chain; no API key involved.
type bedrockBackend struct {
	client *bedrockruntime.Client
	model  string
	dim    int
}

func newBedrockBackend(cfg config.EmbeddingConfig) (*bedrockBackend, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	model := cfg.Model
	if model == "" {
		model = defaultTitanModel
	}
	return &bedrockBackend{
		client: bedrockruntime.NewFromConfig(awsCfg),
		model:  model,
		dim:    cfg.Dimension,
	}, nil
}

func (b *bedrockBackend) Name() string { return "bedrock" }

type titanEmbedRequest struct {
	InputText  string `json:"inputText"`
	Dimensions int    `json:"dimensions,omitempty"`
}

type titanEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embed invokes the model once per text; Titan has no batch endpoint.
func (b *bedrockBackend) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	vecs := make([][]float32, len(texts))
	for i, text := range texts {
		payload, err := json.Marshal(&titanEmbedRequest{InputText: text, Dimensions: b.dim})
		if err != nil {
			return nil, fmt.Errorf("failed to marshal titan request: %w", err)
		}

		out, err := b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
			ModelId:     aws.String(b.model),
			ContentType: aws.String("application/json"),
			Body:        payload,
		})
		if err != nil {
			return nil, fmt.Errorf("bedrock invoke failed: %w", err)
		}

		var resp titanEmbedResponse
		if err := json.Unmarshal(out.Body, &resp); err != nil {
			return nil, fmt.Errorf("failed to parse titan response: %w", err)
		}
		vecs[i] = resp.Embedding
	}
	return vecs, nil
}

var _ Backend = (*bedrockBackend)(nil)
