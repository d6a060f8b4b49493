package services

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/hi-space/next-memo/internal/common"
	"github.com/hi-space/next-memo/internal/logging"
	"github.com/hi-space/next-memo/internal/server/blob"
	sc "github.com/hi-space/next-memo/internal/server/config"
	"github.com/hi-space/next-memo/internal/server/models"
	"github.com/hi-space/next-memo/internal/server/repositories/repomanager"
)

// SummaryResult is the structured enrichment produced for a memo.
type SummaryResult struct {
	Title   string   `json:"title"`
	Summary string   `json:"summary"`
	Tags    []string `json:"tags"`
}

// bedrockAPI is the subset of the Bedrock runtime client used here.
type bedrockAPI interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput,
		optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

var loadBedrockAWSConfig = func(ctx context.Context, region string) (aws.Config, error) {
	return config.LoadDefaultConfig(ctx, config.WithRegion(region))
}

var newBedrockRuntimeClient = func(cfg aws.Config) bedrockAPI {
	return bedrockruntime.NewFromConfig(cfg)
}

// anthropicRequest is the Bedrock Messages API payload.
type anthropicRequest struct {
	AnthropicVersion string             `json:"anthropic_version"`
	MaxTokens        int                `json:"max_tokens"`
	Messages         []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string             `json:"role"`
	Content []anthropicContent `json:"content"`
}

type anthropicContent struct {
	Type   string           `json:"type"`
	Text   string           `json:"text,omitempty"`
	Source *anthropicSource `json:"source,omitempty"`
}

type anthropicSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type anthropicResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
}

// SummaryService asks a generative model for a title, a short summary
// and tags, and patches them onto the stored memo. Every failure wraps
// common.ErrorEnrichment; callers on the write path never surface it.
type SummaryService struct {
	db     *sql.DB
	repos  repomanager.RepositoryManager
	blobs  blob.Gateway
	client bedrockAPI
	config *sc.Config
	logger logging.Logger
}

func NewSummaryService(ctx context.Context, db *sql.DB, repos repomanager.RepositoryManager,
	blobs blob.Gateway, cfg *sc.Config, logger logging.Logger) (*SummaryService, error) {
	awsCfg, err := loadBedrockAWSConfig(ctx, cfg.BedrockRegion)
	if err != nil {
		return nil, fmt.Errorf("%w: load aws config: %v", common.ErrorEnrichment, err)
	}
	return &SummaryService{
		db:     db,
		repos:  repos,
		blobs:  blobs,
		client: newBedrockRuntimeClient(awsCfg),
		config: cfg,
		logger: logger.With("module", "summary_service"),
	}, nil
}

const summaryPrompt = `Analyze the following memo and respond with a JSON object only, no other text.
The JSON object must have exactly these fields:
"title": a one-line title for the memo,
"summary": a summary of at most 100 characters,
"tags": an array of exactly 3 short topic tags.

Memo content:
`

// Generate produces a SummaryResult for the memo. When the memo's first
// attachment is an image it is fetched and sent alongside the text to
// the multimodal model; otherwise the text-only model is used.
func (s *SummaryService) Generate(ctx context.Context, memo *models.Memo) (SummaryResult, error) {
	content := []anthropicContent{}
	modelID := s.config.BedrockTextModel

	if img := firstImageRef(memo.Files); img != nil {
		key, err := s.blobs.KeyFromURL(img.FileUrl)
		if err == nil {
			data, contentType, gerr := s.blobs.Get(ctx, key)
			if gerr == nil {
				modelID = s.config.BedrockImageModel
				content = append(content, anthropicContent{
					Type: "image",
					Source: &anthropicSource{
						Type:      "base64",
						MediaType: contentType,
						Data:      base64.StdEncoding.EncodeToString(data),
					},
				})
			} else {
				s.logger.Warn(ctx, "image fetch for summary failed, using text model",
					"memo_id", memo.ID, "key", key, "error", gerr)
			}
		}
	}

	content = append(content, anthropicContent{Type: "text", Text: summaryPrompt + memo.Content})

	body, err := json.Marshal(anthropicRequest{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        2000,
		Messages:         []anthropicMessage{{Role: "user", Content: content}},
	})
	if err != nil {
		return SummaryResult{}, fmt.Errorf("%w: marshal request: %v", common.ErrorEnrichment, err)
	}

	out, err := s.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(modelID),
		ContentType: aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return SummaryResult{}, fmt.Errorf("%w: invoke model: %v", common.ErrorEnrichment, err)
	}

	return parseSummaryResponse(out.Body)
}

// Enrich generates the summary and patches it onto the stored record,
// preserving any title the user already set.
func (s *SummaryService) Enrich(ctx context.Context, memo *models.Memo) error {
	res, err := s.Generate(ctx, memo)
	if err != nil {
		return err
	}
	if err := s.repos.Memos(s.db).UpdateEnrichment(ctx, memo.ID, res.Title, res.Summary, res.Tags); err != nil {
		return fmt.Errorf("%w: store enrichment: %v", common.ErrorEnrichment, err)
	}
	s.logger.Info(ctx, "memo enriched", "memo_id", memo.ID, "tags", len(res.Tags))
	return nil
}

// parseSummaryResponse unwraps the model reply: the outer envelope's
// first content block carries the text, which itself must be the JSON
// result. Models occasionally wrap the JSON in prose or code fences, so
// the first {...} span is extracted before decoding.
func parseSummaryResponse(raw []byte) (SummaryResult, error) {
	var envelope anthropicResponse
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return SummaryResult{}, fmt.Errorf("%w: decode response envelope: %v", common.ErrorEnrichment, err)
	}
	if len(envelope.Content) == 0 {
		return SummaryResult{}, fmt.Errorf("%w: empty model response", common.ErrorEnrichment)
	}

	text := envelope.Content[0].Text
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return SummaryResult{}, fmt.Errorf("%w: no JSON object in model response", common.ErrorEnrichment)
	}

	var res SummaryResult
	if err := json.Unmarshal([]byte(text[start:end+1]), &res); err != nil {
		return SummaryResult{}, fmt.Errorf("%w: decode summary: %v", common.ErrorEnrichment, err)
	}
	return res, nil
}

func firstImageRef(files []models.AttachmentRef) *models.AttachmentRef {
	for i := range files {
		if isImageFile(files[i].FileName) {
			return &files[i]
		}
	}
	return nil
}
