package http

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/graphql-go/graphql"

	"github.com/samirrijal/roadreport/internal/core/domain"
)

// buildSchema creates the GraphQL schema wired to our services.
func buildSchema(deps *Dependencies) (graphql.Schema, error) {
	cellType := graphql.NewObject(graphql.ObjectConfig{
		Name: "HeatmapCell",
		Fields: graphql.Fields{
			"cell_lat":     &graphql.Field{Type: graphql.Float},
			"cell_lng":     &graphql.Field{Type: graphql.Float},
			"report_count": &graphql.Field{Type: graphql.Int},
			"avg_score":    &graphql.Field{Type: graphql.Float},
			"top_condition": &graphql.Field{
				Type: graphql.String,
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return p.Source.(domain.HeatmapCell).TopCondition.String(), nil
				},
			},
			"latest_report_at": &graphql.Field{Type: graphql.DateTime},
			"low_data":         &graphql.Field{Type: graphql.Boolean},
		},
	})

	conditionType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Condition",
		Fields: graphql.Fields{
			"name":           &graphql.Field{Type: graphql.String},
			"class":          &graphql.Field{Type: graphql.String},
			"half_life_days": &graphql.Field{Type: graphql.Float},
		},
	})

	multiplierType := graphql.NewObject(graphql.ObjectConfig{
		Name: "ConditionMultiplier",
		Fields: graphql.Fields{
			"condition":  &graphql.Field{Type: graphql.String},
			"multiplier": &graphql.Field{Type: graphql.Float},
		},
	})

	activityType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Activity",
		Fields: graphql.Fields{
			"name":               &graphql.Field{Type: graphql.String},
			"default_condition":  &graphql.Field{Type: graphql.String},
			"condition_priority": &graphql.Field{Type: graphql.NewList(graphql.String)},
			"multipliers":        &graphql.Field{Type: graphql.NewList(multiplierType)},
		},
	})

	queryType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"heatmapCells": &graphql.Field{
				Type:        graphql.NewList(cellType),
				Description: "Scored heatmap cells for a viewport, ordered by score",
				Args: graphql.FieldConfigArgument{
					"south":    &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Float)},
					"north":    &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Float)},
					"west":     &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Float)},
					"east":     &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Float)},
					"zoom":     &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Float)},
					"activity": &graphql.ArgumentConfig{Type: graphql.String, DefaultValue: ""},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					q := domain.HeatmapQuery{
						Bounds: domain.BoundingBox{
							South: p.Args["south"].(float64),
							North: p.Args["north"].(float64),
							West:  p.Args["west"].(float64),
							East:  p.Args["east"].(float64),
						},
					}
					z, err := zoomLevel(p.Args["zoom"].(float64))
					if err != nil {
						return nil, err
					}
					q.Zoom = z

					activity, err := domain.ParseActivityType(p.Args["activity"].(string))
					if err != nil {
						return nil, err
					}
					cells, err := deps.Heatmap.Cells(p.Context, q, activity)
					if err != nil {
						return nil, gqlError(p.Context, err)
					}
					return cells, nil
				},
			},
			"conditions": &graphql.Field{
				Type:        graphql.NewList(conditionType),
				Description: "Reportable conditions in tie-break order",
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					var out []map[string]interface{}
					for _, ct := range domain.AllConditions() {
						out = append(out, map[string]interface{}{
							"name":           ct.String(),
							"class":          string(ct.Class()),
							"half_life_days": ct.HalfLifeDays(),
						})
					}
					return out, nil
				},
			},
			"activities": &graphql.Field{
				Type:        graphql.NewList(activityType),
				Description: "Activities with their condition priorities and score multipliers",
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					var out []map[string]interface{}
					for _, info := range activityCatalogue() {
						priority := make([]string, 0, len(info.ConditionPriority))
						for _, ct := range info.ConditionPriority {
							priority = append(priority, ct.String())
						}
						var mults []map[string]interface{}
						for _, ct := range domain.AllConditions() {
							if m, ok := info.Multipliers[ct.String()]; ok {
								mults = append(mults, map[string]interface{}{"condition": ct.String(), "multiplier": m})
							}
						}
						out = append(out, map[string]interface{}{
							"name":               string(info.Name),
							"default_condition":  info.DefaultCondition.String(),
							"condition_priority": priority,
							"multipliers":        mults,
						})
					}
					return out, nil
				},
			},
		},
	})

	return graphql.NewSchema(graphql.SchemaConfig{
		Query: queryType,
	})
}

// gqlError hides store details from GraphQL clients. Server-side failures
// are logged and carry the request ID so a client can quote it.
func gqlError(ctx context.Context, err error) error {
	_, code := classify(err)
	var msg string
	switch code {
	case codeBadRequest:
		return err
	case codeSourceUnavailable:
		msg = "report store is temporarily unavailable"
	case codeTimeout:
		msg = "heatmap request timed out"
	default:
		msg = "could not compute heatmap"
	}
	LoggerFromCtx(ctx).Warn("graphql heatmap failed", "code", code, "error", err)

	msg = code + ": " + msg
	if rid := RequestIDFromCtx(ctx); rid != "" {
		msg += " (request " + rid + ")"
	}
	return errors.New(msg)
}

// GraphQLHandler serves POST /graphql.
func GraphQLHandler(deps *Dependencies) fiber.Handler {
	schema, err := buildSchema(deps)
	if err != nil {
		panic("graphql schema build: " + err.Error())
	}

	type gqlRequest struct {
		Query         string                 `json:"query"`
		OperationName string                 `json:"operationName"`
		Variables     map[string]interface{} `json:"variables"`
	}

	return func(c *fiber.Ctx) error {
		var req gqlRequest
		if err := c.BodyParser(&req); err != nil {
			return errBadRequest(c, "invalid request body")
		}

		result := graphql.Do(graphql.Params{
			Schema:         schema,
			RequestString:  req.Query,
			VariableValues: req.Variables,
			OperationName:  req.OperationName,
			Context:        c.UserContext(),
		})

		return c.JSON(result)
	}
}
