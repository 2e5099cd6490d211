package genai

import (
	"context"
	"errors"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/BTreeMap/TrackPipe/internal/models"
)

const nutritionSystemPrompt = `You are a nutrition reference. For the food product the user names, reply with a single JSON object and nothing else:
{"calories": number, "protein": number, "fat": number, "carbs": number, "salt": number, "sugar": number, "fiber": number}
Values are per 100 g: calories in kcal, everything else in grams. Use typical values for the product.`

// ErrUnparseableNutrition is returned when the model reply holds no JSON object.
var ErrUnparseableNutrition = errors.New("reply is not a nutrition object")

// NutritionEstimator looks up per-100g macros for products missing from the catalog.
type NutritionEstimator struct {
	client *Client
}

// NewNutritionEstimator wraps a client.
func NewNutritionEstimator(client *Client) *NutritionEstimator {
	return &NutritionEstimator{client: client}
}

// EstimateNutrition asks the model for the product's nutrients per 100 g.
func (e *NutritionEstimator) EstimateNutrition(ctx context.Context, product string) (models.Nutrients, error) {
	reply, err := e.client.GeneratePromptWithContext(ctx, nutritionSystemPrompt, product)
	if err != nil {
		return models.Nutrients{}, err
	}
	return ParseNutrients(reply)
}

// ParseNutrients extracts macros from a model reply. Markdown fences and text
// around the object are ignored. Missing or negative values become zero.
func ParseNutrients(reply string) (models.Nutrients, error) {
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start < 0 || end < start {
		return models.Nutrients{}, ErrUnparseableNutrition
	}
	body := reply[start : end+1]
	if !gjson.Valid(body) {
		return models.Nutrients{}, ErrUnparseableNutrition
	}
	r := gjson.Parse(body)
	get := func(key string) float64 {
		v := r.Get(key).Float()
		if v < 0 {
			return 0
		}
		return v
	}
	return models.Nutrients{
		Calories: get("calories"),
		Protein:  get("protein"),
		Fat:      get("fat"),
		Carbs:    get("carbs"),
		Salt:     get("salt"),
		Sugar:    get("sugar"),
		Fiber:    get("fiber"),
	}, nil
}
