package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/gofiber/fiber/v2"
)

// OpenAPIPath is where the served OpenAPI document is read from, relative to
// the working directory.
var OpenAPIPath = "api/openapi.yaml"

const swaggerUIPage = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<title>RoadReport API docs</title>
<link rel="stylesheet" href="https://cdn.jsdelivr.net/npm/swagger-ui-dist@5/swagger-ui.css">
</head>
<body>
<div id="swagger-ui"></div>
<script src="https://cdn.jsdelivr.net/npm/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
<script>
window.ui = SwaggerUIBundle({url: '/docs/openapi.json', dom_id: '#swagger-ui', deepLinking: true});
</script>
</body>
</html>`

// SetupDocs registers Swagger UI at /docs and the OpenAPI document at
// /docs/openapi.yaml and /docs/openapi.json. The document is loaded and
// validated once; if it is missing or invalid the document routes answer 404.
func SetupDocs(app *fiber.App) {
	raw, asJSON := loadOpenAPI(OpenAPIPath)

	app.Get("/docs", func(c *fiber.Ctx) error {
		c.Set(fiber.HeaderContentType, fiber.MIMETextHTMLCharsetUTF8)
		return c.SendString(swaggerUIPage)
	})

	app.Get("/docs/openapi.yaml", func(c *fiber.Ctx) error {
		if raw == nil {
			return errNotFound(c, "openapi.yaml not found")
		}
		c.Set(fiber.HeaderContentType, "application/yaml")
		return c.Send(raw)
	})

	app.Get("/docs/openapi.json", func(c *fiber.Ctx) error {
		if asJSON == nil {
			return errNotFound(c, "openapi.yaml not found")
		}
		c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		return c.Send(asJSON)
	})
}

func loadOpenAPI(path string) (raw, asJSON []byte) {
	raw, err := os.ReadFile(path)
	if err != nil {
		slog.Warn("api docs disabled", "path", path, "error", err)
		return nil, nil
	}

	loader := &openapi3.Loader{IsExternalRefsAllowed: false}
	doc, err := loader.LoadFromData(raw)
	if err == nil {
		err = doc.Validate(context.Background())
	}
	if err != nil {
		slog.Warn("api docs invalid", "path", path, "error", err)
		return nil, nil
	}

	asJSON, err = json.Marshal(doc)
	if err != nil {
		slog.Warn("api docs encode", "error", err)
		return raw, nil
	}
	return raw, asJSON
}
