package service

import (
	"context"
	"strings"
	"time"

	billingcycledomain "github.com/mogcia-app/signal/internal/billingcycle/domain"
	"github.com/mogcia-app/signal/internal/cache"
	"github.com/mogcia-app/signal/internal/clock"
	"github.com/mogcia-app/signal/internal/config"
	kpidomain "github.com/mogcia-app/signal/internal/kpi/domain"
	"github.com/mogcia-app/signal/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const profileCacheTTL = time.Minute

type ServiceParam struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	Clock  clock.Clock
	Config *config.KPIConfigHolder
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	clock       clock.Clock
	cfg         *config.KPIConfigHolder
	profilerepo repository.Repository[billingcycledomain.OwnerProfile]
	profiles    cache.Cache[string, billingcycledomain.OwnerProfile]
}

func NewService(p ServiceParam) billingcycledomain.Service {
	return New(p)
}

func New(p ServiceParam) *Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Service{
		db:  p.DB,
		log: p.Log.Named("billingcycle.service"),

		clock:       clk,
		cfg:         p.Config,
		profilerepo: repository.ProvideStore[billingcycledomain.OwnerProfile](p.DB, "owner_id"),
		profiles:    cache.NewTTLCache[string, billingcycledomain.OwnerProfile](0, profileCacheTTL),
	}
}

func (s *Service) GetProfile(ctx context.Context, ownerID string) (billingcycledomain.ResolvedProfile, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return billingcycledomain.ResolvedProfile{}, kpidomain.ErrOwnerRequired
	}
	stored, err := s.load(ctx, ownerID)
	if err != nil {
		return billingcycledomain.ResolvedProfile{}, err
	}
	return billingcycledomain.Resolve(ownerID, stored, s.cfg.Get().DefaultTimezone), nil
}

func (s *Service) load(ctx context.Context, ownerID string) (*billingcycledomain.OwnerProfile, error) {
	if cached, ok := s.profiles.Get(ownerID); ok {
		return &cached, nil
	}
	stored, err := s.profilerepo.FindByKey(ctx, ownerID)
	if err != nil {
		return nil, kpidomain.Transient("load owner profile", err)
	}
	if stored != nil {
		s.profiles.Set(ownerID, *stored)
	}
	return stored, nil
}

func (s *Service) UpsertProfile(ctx context.Context, req billingcycledomain.UpsertProfileRequest) (billingcycledomain.ResolvedProfile, error) {
	ownerID := strings.TrimSpace(req.OwnerID)
	if ownerID == "" {
		return billingcycledomain.ResolvedProfile{}, kpidomain.ErrOwnerRequired
	}
	if req.Timezone != nil {
		tz := strings.TrimSpace(*req.Timezone)
		if tz != "" {
			if _, err := time.LoadLocation(tz); err != nil {
				return billingcycledomain.ResolvedProfile{}, billingcycledomain.ErrInvalidTimezone
			}
		}
		req.Timezone = &tz
	}
	if req.AnchorDay != nil && *req.AnchorDay != 0 &&
		(*req.AnchorDay < billingcycledomain.MinAnchorDay || *req.AnchorDay > billingcycledomain.MaxAnchorDay) {
		return billingcycledomain.ResolvedProfile{}, billingcycledomain.ErrInvalidAnchorDay
	}

	var saved billingcycledomain.OwnerProfile
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.profilerepo.WithTrx(tx)
		current, err := repo.FindByKey(ctx, ownerID)
		if err != nil {
			return err
		}
		now := s.clock.Now()
		isNew := current == nil
		if isNew {
			current = &billingcycledomain.OwnerProfile{OwnerID: ownerID, CreatedAt: now}
		}
		if req.Timezone != nil {
			current.Timezone = *req.Timezone
		}
		if req.AnchorDay != nil {
			current.AnchorDay = *req.AnchorDay
		}
		if req.AccountCreatedAt != nil {
			created := req.AccountCreatedAt.UTC()
			current.AccountCreatedAt = &created
		}
		current.UpdatedAt = now
		if isNew {
			err = repo.Create(ctx, current)
		} else {
			err = repo.Save(ctx, current)
		}
		if err != nil {
			return err
		}
		saved = *current
		return nil
	})
	if err != nil {
		return billingcycledomain.ResolvedProfile{}, kpidomain.Transient("save owner profile", err)
	}
	s.profiles.Delete(ownerID)

	s.log.Info("owner profile updated",
		zap.String("owner_id", ownerID),
		zap.String("timezone", saved.Timezone),
		zap.Int("anchor_day", saved.AnchorDay),
	)
	return billingcycledomain.Resolve(ownerID, &saved, s.cfg.Get().DefaultTimezone), nil
}

func (s *Service) CurrentWindows(ctx context.Context, ownerID string) (billingcycledomain.OwnerWindows, error) {
	profile, err := s.GetProfile(ctx, ownerID)
	if err != nil {
		return billingcycledomain.OwnerWindows{}, err
	}
	windows, err := billingcycledomain.CurrentAndPreviousWindow(s.clock.Now(), profile.Location(), profile.AnchorDay)
	if err != nil {
		return billingcycledomain.OwnerWindows{}, err
	}
	return billingcycledomain.OwnerWindows{Profile: profile, CurrentWindows: windows}, nil
}

func (s *Service) WindowForKey(ctx context.Context, ownerID, periodKey string) (billingcycledomain.PeriodWindow, error) {
	profile, err := s.GetProfile(ctx, ownerID)
	if err != nil {
		return billingcycledomain.PeriodWindow{}, err
	}
	return billingcycledomain.WindowForKey(periodKey, profile.Location(), profile.AnchorDay)
}
