package handlers

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestCreatePaymentRequestBinding(t *testing.T) {
	gin.SetMode(gin.TestMode)
	req := httptest.NewRequest("POST", "/api/v1/payments",
		strings.NewReader(`{"order_no":"ORD1","amount_total":990,"method":"native","description":"商品"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = req

	var body CreatePaymentRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		t.Fatalf("bind create payment request failed: %v", err)
	}
	if body.OrderNo != "ORD1" || body.AmountTotal != 990 || body.Method != "native" {
		t.Fatalf("unexpected request %+v", body)
	}
}

func TestCreatePaymentRequestRequiresFields(t *testing.T) {
	gin.SetMode(gin.TestMode)
	req := httptest.NewRequest("POST", "/api/v1/payments", strings.NewReader(`{"order_no":"ORD1"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = req

	var body CreatePaymentRequest
	if err := c.ShouldBindJSON(&body); err == nil {
		t.Fatalf("expected binding error for missing fields")
	}
}
