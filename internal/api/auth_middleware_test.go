package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestBearerToken(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name        string
		header      string
		query       string
		allowQuery  bool
		wantToken   string
		wantProblem bool
	}{
		{name: "标准授权头", header: "Bearer abc", wantToken: "abc"},
		{name: "大小写不敏感", header: "bearer  abc ", wantToken: "abc"},
		{name: "缺少授权头", wantProblem: true},
		{name: "格式错误", header: "Token abc", wantProblem: true},
		{name: "空令牌", header: "Bearer   ", wantProblem: true},
		{name: "普通接口忽略查询参数", query: "?access_token=abc", wantProblem: true},
		{name: "SSE 接口读取查询参数", query: "?access_token=abc", allowQuery: true, wantToken: "abc"},
		{name: "授权头优先于查询参数", header: "Bearer fromheader", query: "?access_token=fromquery", allowQuery: true, wantToken: "fromheader"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodGet, "/api/generations/events"+tt.query, nil)
			if tt.header != "" {
				c.Request.Header.Set("Authorization", tt.header)
			}

			token, problem := bearerToken(c, tt.allowQuery)
			if (problem != "") != tt.wantProblem {
				t.Fatalf("bearerToken() problem = %q, wantProblem %v", problem, tt.wantProblem)
			}
			if token != tt.wantToken {
				t.Fatalf("bearerToken() token = %q, want %q", token, tt.wantToken)
			}
		})
	}
}
