package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sourcegraph/conc/pool"
	"gorm.io/gorm"

	"github.com/shopflow/printbridge/internal/marketplace"
	"github.com/shopflow/printbridge/internal/models"
	"github.com/shopflow/printbridge/internal/utils"
)

// Poller periodically pulls recent orders for every active shop. It is the
// safety net under the webhook: anything a webhook missed is picked up on
// the next poll.
type Poller struct {
	db       *gorm.DB
	client   *marketplace.Client
	adapter  *Adapter
	encKey   []byte
	pageSize int
}

func NewPoller(db *gorm.DB, client *marketplace.Client, adapter *Adapter, encKey []byte, pageSize int) *Poller {
	if pageSize <= 0 {
		pageSize = 50
	}
	return &Poller{db: db, client: client, adapter: adapter, encKey: encKey, pageSize: pageSize}
}

// Sweep polls every active shop once. Shops are polled concurrently; one
// failing shop never blocks the others.
func (p *Poller) Sweep(ctx context.Context) error {
	var shops []models.Shop
	err := p.db.WithContext(ctx).
		Where("status = ?", models.ShopStatusActive).
		Find(&shops).Error
	if err != nil {
		return fmt.Errorf("poll: list shops: %w", err)
	}
	if len(shops) == 0 {
		return nil
	}

	workers := pool.New().WithContext(ctx).WithMaxGoroutines(4)
	for _, shop := range shops {
		shop := shop
		workers.Go(func(ctx context.Context) error {
			if err := p.PollShop(ctx, &shop); err != nil {
				log.Printf("⚠️ Poll: shop %s: %v", shop.PlatformShopID, err)
			}
			return nil
		})
	}
	return workers.Wait()
}

// PollShop pulls order pages for one shop until the platform reports no
// more. An expired token gets one refresh-and-retry; a refresh failure
// parks the shop until the operator reconnects it. Used both by Sweep and
// by the manual per-shop sync endpoint.
func (p *Poller) PollShop(ctx context.Context, shop *models.Shop) error {
	accessToken, err := utils.Decrypt(shop.AccessToken, p.encKey)
	if err != nil {
		return fmt.Errorf("decrypt access token: %w", err)
	}

	ingested, err := p.pollPages(ctx, shop, accessToken)
	if errors.Is(err, marketplace.ErrTokenExpired) {
		accessToken, err = p.refreshShopToken(ctx, shop)
		if err != nil {
			p.markNeedsReauth(ctx, shop)
			return fmt.Errorf("token refresh: %w", err)
		}
		ingested, err = p.pollPages(ctx, shop, accessToken)
	}
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if err := p.db.WithContext(ctx).Model(shop).Update("last_sync_at", now).Error; err != nil {
		log.Printf("⚠️ Poll: update last_sync_at for shop %s: %v", shop.PlatformShopID, err)
	}
	if ingested > 0 {
		log.Printf("🔄 Poll: shop %s ingested %d orders", shop.PlatformShopID, ingested)
	}
	return nil
}

// pollPages walks the cursor-paged order list. Per-order failures are
// logged and skipped so one malformed order never blocks a page.
func (p *Poller) pollPages(ctx context.Context, shop *models.Shop, accessToken string) (int, error) {
	ingested := 0
	cursor := ""
	for {
		page, err := p.client.GetOrders(ctx, accessToken, shop.PlatformShopID, marketplace.OrderQuery{
			PageSize: p.pageSize,
			Cursor:   cursor,
		})
		if err != nil {
			return ingested, err
		}

		for _, po := range page.Orders {
			result, _, err := p.adapter.UpsertOrder(ctx, shop, po)
			if err != nil {
				log.Printf("⚠️ Poll: order %s for shop %s: %v", po.OrderID, shop.PlatformShopID, err)
				continue
			}
			if result != ResultDuplicate {
				ingested++
			}
		}

		if !page.More || page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
	return ingested, nil
}

// refreshShopToken exchanges the stored refresh token for a new token pair
// and persists it encrypted. Transient refresh failures are retried with
// exponential backoff before giving up.
func (p *Poller) refreshShopToken(ctx context.Context, shop *models.Shop) (string, error) {
	refreshToken, err := utils.Decrypt(shop.RefreshToken, p.encKey)
	if err != nil {
		return "", fmt.Errorf("decrypt refresh token: %w", err)
	}

	var tokens *marketplace.TokenData
	operation := func() (*marketplace.TokenData, error) {
		return p.client.RefreshToken(ctx, refreshToken)
	}
	tokens, err = backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(3))
	if err != nil {
		return "", err
	}

	encAccess, err := utils.Encrypt(tokens.AccessToken, p.encKey)
	if err != nil {
		return "", fmt.Errorf("encrypt access token: %w", err)
	}
	encRefresh, err := utils.Encrypt(tokens.RefreshToken, p.encKey)
	if err != nil {
		return "", fmt.Errorf("encrypt refresh token: %w", err)
	}

	expiresAt := time.Unix(tokens.AccessTokenExpireIn, 0).UTC()
	updates := map[string]interface{}{
		"access_token":     encAccess,
		"refresh_token":    encRefresh,
		"token_expires_at": expiresAt,
	}
	if err := p.db.WithContext(ctx).Model(shop).Updates(updates).Error; err != nil {
		return "", fmt.Errorf("persist tokens: %w", err)
	}
	log.Printf("🔑 Poll: refreshed tokens for shop %s", shop.PlatformShopID)
	return tokens.AccessToken, nil
}

func (p *Poller) markNeedsReauth(ctx context.Context, shop *models.Shop) {
	err := p.db.WithContext(ctx).Model(shop).
		Update("status", models.ShopStatusNeedsReauth).Error
	if err != nil {
		log.Printf("⚠️ Poll: mark shop %s needs_reauth: %v", shop.PlatformShopID, err)
		return
	}
	log.Printf("🔒 Poll: shop %s needs re-authorization", shop.PlatformShopID)
}

// Run sweeps on the given interval until the context is cancelled
func (p *Poller) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.Sweep(ctx); err != nil {
				log.Printf("⚠️ Poll sweep: %v", err)
			}
		}
	}
}
