package api

import (
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"updowntrade.com/internal/config"
	"updowntrade.com/internal/model"
)

type AuthHandler struct {
	db        *gorm.DB
	cfg       *config.Config
	jwtSecret []byte
}

func NewAuthHandler(db *gorm.DB, cfg *config.Config) *AuthHandler {
	return &AuthHandler{
		db:        db,
		cfg:       cfg,
		jwtSecret: []byte(cfg.JWT.Secret),
	}
}

type LoginRequest struct {
	Username string `json:"Username"`
	Email    string `json:"Email"`
	Password string `json:"Password"`
}

type RegisterRequest struct {
	Username string `json:"Username"`
	Email    string `json:"Email"`
	Password string `json:"Password"`
}

type AuthResponse struct {
	Token    string `json:"Token"`
	ID       uint   `json:"ID"`
	Username string `json:"Username"`
	Email    string `json:"Email"`
	Role     string `json:"Role"`
}

// Register creates a new user (default role: user) with a zero-balance
// account in the settlement currency.
func (h *AuthHandler) Register(c *fiber.Ctx) error {
	var req RegisterRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"Error": "Invalid request"})
	}

	if req.Email == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"Error": "Email is required"})
	}
	if req.Username == "" {
		req.Username = req.Email
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"Error": "Crypto error"})
	}

	user := model.User{
		Username: req.Username,
		Email:    req.Email,
		Password: string(hashedPassword),
		Role:     "user",
		IsActive: true,
	}

	// 用户与零余额账户一并创建
	err = h.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&user).Error; err != nil {
			return err
		}
		return tx.Create(&model.Account{
			UserID:    user.ID,
			Currency:  h.cfg.Trading.Currency,
			Available: decimal.Zero,
			Frozen:    decimal.Zero,
		}).Error
	})
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"Error": "Username or Email already exists"})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"Message": "User registered successfully"})
}

// Login authenticates user and returns JWT
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"Error": "Invalid request"})
	}

	loginID := req.Email
	if loginID == "" {
		loginID = req.Username
	}
	if loginID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"Error": "Email or Username is required"})
	}

	var user model.User
	// Support login by Username OR Email
	if err := h.db.Where("email = ? OR username = ?", loginID, loginID).First(&user).Error; err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"Error": "Invalid credentials"})
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"Error": "Invalid credentials"})
	}

	expiry := time.Duration(h.cfg.JWT.ExpiryHours) * time.Hour
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"id":       user.ID,
		"email":    user.Email,
		"username": user.Username,
		"role":     user.Role,
		"exp":      time.Now().Add(expiry).Unix(),
	})

	t, err := token.SignedString(h.jwtSecret)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"Error": "Failed to sign token"})
	}

	return c.JSON(AuthResponse{
		Token:    t,
		ID:       user.ID,
		Email:    user.Email,
		Username: user.Username,
		Role:     user.Role,
	})
}

// EnsureAdminUser checks if any user exists, if not creates a default admin
func (h *AuthHandler) EnsureAdminUser() {
	var count int64
	h.db.Model(&model.User{}).Count(&count)
	if count == 0 {
		log.Println("Auth: No users found. Creating default 'admin' user...")
		hashedPassword, _ := bcrypt.GenerateFromPassword([]byte("admin123"), bcrypt.DefaultCost)
		admin := model.User{
			Username: "admin",
			Email:    "admin@admin.com",
			Password: string(hashedPassword),
			Role:     "admin",
			IsActive: true,
		}
		if err := h.db.Create(&admin).Error; err != nil {
			log.Printf("Failed to create admin user: %v", err)
		} else {
			log.Println("Auth: Created default user: admin / admin123")
		}
	}
}

// GetMe implements the getCurrentUser API
func (h *AuthHandler) GetMe(c *fiber.Ctx) error {
	userID := c.Locals("id")
	if userID == nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"Error": "Unauthorized"})
	}

	var user model.User
	if err := h.db.First(&user, userID).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"Error": "User not found"})
	}

	return c.JSON(fiber.Map{
		"ID":        user.ID,
		"Username":  user.Username,
		"Email":     user.Email,
		"Role":      user.Role,
		"IsActive":  user.IsActive,
		"CreatedAt": user.CreatedAt,
	})
}

// Logout is a placeholder for client-side token removal
func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"Message": "Logged out successfully",
	})
}
