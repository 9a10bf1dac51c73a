package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
)

var ErrImageGeneration = errors.New("failed to generate image")

// ImageGenerator produces the profile image URL of an organization.
type ImageGenerator interface {
	GenerateProfileImage(ctx context.Context, description string) (string, error)
}

// PlaceholderImages always returns the same stock image.
type PlaceholderImages struct {
	URL string
}

func (p PlaceholderImages) GenerateProfileImage(context.Context, string) (string, error) {
	return p.URL, nil
}

// OpenAIImages calls an OpenAI compatible images endpoint.
type OpenAIImages struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  log.Logger
}

func NewOpenAIImages(baseURL, apiKey string) *OpenAIImages {
	return &OpenAIImages{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 90 * time.Second},
		logger:  log.New("component", "images"),
	}
}

type imageRequest struct {
	Model   string `json:"model"`
	Prompt  string `json:"prompt"`
	N       int    `json:"n"`
	Size    string `json:"size"`
	Quality string `json:"quality"`
}

type imageResponse struct {
	Data []struct {
		URL string `json:"url"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (o *OpenAIImages) GenerateProfileImage(ctx context.Context, description string) (string, error) {
	body, err := json.Marshal(imageRequest{
		Model:   "dall-e-3",
		Prompt:  fmt.Sprintf("Create a professional, artistic profile image for a non-profit organization focused on: %s. Style: Modern, minimalist, corporate-friendly.", description),
		N:       1,
		Size:    "1024x1024",
		Quality: "standard",
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/images/generations", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.client.Do(req)
	if err != nil {
		o.logger.Error("Image request failed", "err", err)
		return "", fmt.Errorf("%w: %v", ErrImageGeneration, err)
	}
	defer resp.Body.Close()

	var out imageResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", ErrImageGeneration, err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := resp.Status
		if out.Error != nil {
			msg = out.Error.Message
		}
		o.logger.Error("Image generation rejected", "status", resp.StatusCode, "msg", msg)
		return "", fmt.Errorf("%w: %s", ErrImageGeneration, msg)
	}
	if len(out.Data) == 0 {
		return "", fmt.Errorf("%w: empty response", ErrImageGeneration)
	}
	return out.Data[0].URL, nil
}
