package openapi

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/gorillamux"
	"github.com/gin-gonic/gin"
)

//go:embed openapi.yaml
var Document []byte

// Load 解析並驗證內嵌的 OpenAPI 文件
func Load(ctx context.Context) (*openapi3.T, error) {
	const op = "openapi.Load"
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(Document)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to load document, err=%w", op, err)
	}
	if err := doc.Validate(ctx); err != nil {
		return nil, fmt.Errorf("[%s] Invalid document, err=%w", op, err)
	}
	return doc, nil
}

// Validator 依照 OpenAPI 文件檢查請求的參數與 body
type Validator struct {
	router routers.Router
}

func NewValidator(doc *openapi3.T) (*Validator, error) {
	const op = "openapi.NewValidator"
	router, err := gorillamux.NewRouter(doc)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to build router, err=%w", op, err)
	}
	return &Validator{router: router}, nil
}

// Validate 檢查請求，文件中沒有的路由會回傳 routers.ErrPathNotFound
func (v *Validator) Validate(r *http.Request) error {
	route, pathParams, err := v.router.FindRoute(r)
	if err != nil {
		return err
	}
	return openapi3filter.ValidateRequest(r.Context(), &openapi3filter.RequestValidationInput{
		Request:    r,
		PathParams: pathParams,
		Route:      route,
		Options: &openapi3filter.Options{
			// 驗證 token 是 auth middleware 的工作
			AuthenticationFunc: openapi3filter.NoopAuthenticationFunc,
		},
	})
}

// GinMiddleware 驗證失敗時回傳 400，文件沒有描述的路由直接放行
func (v *Validator) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		err := v.Validate(c.Request)
		if err != nil && !errors.Is(err, routers.ErrPathNotFound) && !errors.Is(err, routers.ErrMethodNotAllowed) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"kind":    "InvalidArgument",
				"message": err.Error(),
			})
			return
		}
		c.Next()
	}
}
