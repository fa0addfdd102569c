// Package devserver is a reference implementation of the storefront
// backend REST contract. It exists for local development and for the
// client test suites; it is not a production service. Payments are
// mock only: no real monetary transfer ever occurs.
package devserver

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"storefront/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// Server wires the store, token authority, and event publisher behind
// the HTTP handlers.
type Server struct {
	store  Store
	tokens *TokenAuth
	events *EventPublisher
	logger *zap.Logger
}

// NewServer creates a dev API server. events may be nil.
func NewServer(store Store, tokens *TokenAuth, events *EventPublisher) *Server {
	return &Server{
		store:  store,
		tokens: tokens,
		events: events,
		logger: util.GetLogger(),
	}
}

// Router builds the gin engine with all routes of the contract.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(metricsMiddleware())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "time": time.Now().Unix()})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	{
		api.GET("/products", s.listProducts)
		api.POST("/users/login", s.login)
		api.POST("/users/signup", s.signup)

		authed := api.Group("")
		authed.Use(s.authMiddleware())
		{
			authed.GET("/cart", s.getCart)
			authed.POST("/cart/add", s.addToCart)
			authed.PUT("/cart/update", s.updateCartItem)
			authed.DELETE("/cart/remove/:itemId", s.removeCartItem)
			authed.DELETE("/cart/clear", s.clearCart)

			authed.POST("/orders/checkout", s.checkout)
			authed.GET("/orders", s.listOrders)
			authed.GET("/orders/:id", s.getOrder)
			authed.POST("/orders/:id/cancel", s.cancelOrder)

			authed.POST("/payment/mock-create", s.createMockPayment)
			authed.GET("/payment/mock-success", s.completeMockPayment)

			authed.GET("/users/profile", s.getProfile)
			authed.PUT("/users/profile", s.updateProfile)
			authed.PUT("/users/change-password", s.changePassword)
		}
	}
	return router
}

const userIDKey = "userID"

// authMiddleware resolves the bearer credential to a user id.
func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		const prefix = "Bearer "
		if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		userID, err := s.tokens.Resolve(c.Request.Context(), header[len(prefix):])
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		}
		c.Set(userIDKey, userID)
		c.Next()
	}
}

func currentUser(c *gin.Context) int64 {
	return c.GetInt64(userIDKey)
}

// fail maps store errors onto the HTTP error contract.
func (s *Server) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, ErrEmptyCart):
		c.JSON(http.StatusBadRequest, gin.H{"error": "cart is empty"})
	case errors.Is(err, ErrDuplicateEmail):
		c.JSON(http.StatusBadRequest, gin.H{"error": "email already registered"})
	case errors.Is(err, ErrNotCancellable):
		c.JSON(http.StatusBadRequest, gin.H{"error": "order can no longer be cancelled"})
	case errors.Is(err, ErrAmountMismatch):
		c.JSON(http.StatusBadRequest, gin.H{"error": "payment amount does not match order total"})
	case errors.Is(err, ErrPaymentSettled):
		c.JSON(http.StatusBadRequest, gin.H{"error": "payment already settled"})
	case errors.Is(err, ErrNoPendingPaying):
		c.JSON(http.StatusBadRequest, gin.H{"error": "no pending payment for order"})
	default:
		s.logger.Error("Request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func (s *Server) listProducts(c *gin.Context) {
	products, err := s.store.ListProducts(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, products)
}

type credentialsRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (s *Server) login(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email and password are required"})
		return
	}

	rec, err := s.store.GetUserByEmail(c.Request.Context(), req.Email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid email or password"})
			return
		}
		s.fail(c, err)
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(rec.PasswordHash), []byte(req.Password)) != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid email or password"})
		return
	}

	token, err := s.tokens.Issue(c.Request.Context(), rec.ID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}

func (s *Server) signup(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name, email and password are required"})
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		s.fail(c, err)
		return
	}

	rec, err := s.store.CreateUser(c.Request.Context(), req.Name, req.Email, string(hash))
	if err != nil {
		s.fail(c, err)
		return
	}

	token, err := s.tokens.Issue(c.Request.Context(), rec.ID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"token": token})
}

func (s *Server) getCart(c *gin.Context) {
	cart, err := s.store.GetCart(c.Request.Context(), currentUser(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, cart)
}

func (s *Server) addToCart(c *gin.Context) {
	productID, err1 := strconv.ParseInt(c.Query("productId"), 10, 64)
	quantity, err2 := strconv.Atoi(c.DefaultQuery("quantity", "1"))
	if err1 != nil || err2 != nil || quantity < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid productId or quantity"})
		return
	}
	if err := s.store.AddCartItem(c.Request.Context(), currentUser(c), productID, quantity); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) updateCartItem(c *gin.Context) {
	itemID, err1 := strconv.ParseInt(c.Query("itemId"), 10, 64)
	quantity, err2 := strconv.Atoi(c.Query("quantity"))
	if err1 != nil || err2 != nil || quantity < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid itemId or quantity"})
		return
	}
	if err := s.store.UpdateCartItem(c.Request.Context(), currentUser(c), itemID, quantity); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) removeCartItem(c *gin.Context) {
	itemID, err := strconv.ParseInt(c.Param("itemId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid item id"})
		return
	}
	if err := s.store.RemoveCartItem(c.Request.Context(), currentUser(c), itemID); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) clearCart(c *gin.Context) {
	if err := s.store.ClearCart(c.Request.Context(), currentUser(c)); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) checkout(c *gin.Context) {
	userID := currentUser(c)
	order, err := s.store.CreateOrderFromCart(c.Request.Context(), userID, c.GetHeader("Idempotency-Key"))
	if err != nil {
		s.fail(c, err)
		return
	}
	s.events.PublishOrderEvent(c.Request.Context(), EventTypeOrderCreated, userID, order)
	c.JSON(http.StatusCreated, order)
}

func (s *Server) listOrders(c *gin.Context) {
	orders, err := s.store.ListOrders(c.Request.Context(), currentUser(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, orders)
}

func (s *Server) getOrder(c *gin.Context) {
	orderID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order id"})
		return
	}
	order, err := s.store.GetOrder(c.Request.Context(), currentUser(c), orderID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (s *Server) cancelOrder(c *gin.Context) {
	orderID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order id"})
		return
	}
	userID := currentUser(c)
	order, err := s.store.CancelOrder(c.Request.Context(), userID, orderID)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.events.PublishOrderEvent(c.Request.Context(), EventTypeOrderCancelled, userID, order)
	c.JSON(http.StatusOK, order)
}

func (s *Server) createMockPayment(c *gin.Context) {
	orderID, err1 := strconv.ParseInt(c.Query("orderId"), 10, 64)
	amount, err2 := strconv.ParseFloat(c.Query("amount"), 64)
	if err1 != nil || err2 != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid orderId or amount"})
		return
	}
	payment, err := s.store.CreatePayment(c.Request.Context(), currentUser(c), orderID, amount)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, payment)
}

func (s *Server) completeMockPayment(c *gin.Context) {
	orderID, err := strconv.ParseInt(c.Query("orderId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order id"})
		return
	}

	userID := currentUser(c)
	txID := fmt.Sprintf("TXN-%s", uuid.New().String()[:8])
	payment, err := s.store.CompletePayment(c.Request.Context(), userID, orderID, txID)
	if err != nil {
		s.fail(c, err)
		return
	}

	if order, err := s.store.GetOrder(c.Request.Context(), userID, orderID); err == nil {
		s.events.PublishOrderEvent(c.Request.Context(), EventTypeOrderPaid, userID, order)
	}
	c.JSON(http.StatusOK, payment)
}

func (s *Server) getProfile(c *gin.Context) {
	rec, err := s.store.GetUserByID(c.Request.Context(), currentUser(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rec.User)
}

type updateProfileRequest struct {
	Name  string `json:"name" binding:"required"`
	Email string `json:"email" binding:"required"`
}

func (s *Server) updateProfile(c *gin.Context) {
	var req updateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name and email are required"})
		return
	}
	rec, err := s.store.UpdateUser(c.Request.Context(), currentUser(c), req.Name, req.Email)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rec.User)
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" binding:"required"`
	NewPassword     string `json:"newPassword" binding:"required"`
}

func (s *Server) changePassword(c *gin.Context) {
	var req changePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "current and new passwords are required"})
		return
	}

	userID := currentUser(c)
	rec, err := s.store.GetUserByID(c.Request.Context(), userID)
	if err != nil {
		s.fail(c, err)
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(rec.PasswordHash), []byte(req.CurrentPassword)) != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "current password is incorrect"})
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		s.fail(c, err)
		return
	}
	if err := s.store.UpdatePassword(c.Request.Context(), userID, string(hash)); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// metricsMiddleware collects HTTP metrics.
func metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
