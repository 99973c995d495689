package api

import (
	"fmt"
	"net/http"
	"net/http/httptest"

	"go.uber.org/zap"
)

// ExampleServer_Handler shows the liveness probe, which needs no backends.
func ExampleServer_Handler() {
	s := NewServer(nil, nil, nil, Config{}, zap.NewNop())
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	fmt.Println(rec.Code, rec.Body.String())
	// Output:
	// 200 {"status":"ok"}
}
