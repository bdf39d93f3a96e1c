package booking

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go-hermes/internal/common/errs"
	"go-hermes/internal/common/models"
	"go-hermes/internal/config"
	"go-hermes/internal/features/entity"

	"go.uber.org/zap"
)

// ClientFetcher loads a System A client by id.
type ClientFetcher interface {
	Client(ctx context.Context, id int64) (json.RawMessage, error)
}

// CompanyCreator applies a System A client record.
type CompanyCreator interface {
	CreateCompany(ctx context.Context, raw []byte) (*entity.Company, error)
}

type BookingService interface {
	GenerateSupportLink(ctx context.Context, systemAAdminID, systemAClientID int64) (*SupportLink, error)
	// ValidateSupportLink returns the link's company when the signature holds
	// and the link has not expired.
	ValidateSupportLink(ctx context.Context, adminID, companyID, expires int64, signature string) (*entity.Company, error)
	ChooseSalesPerson(ctx context.Context, plan entity.PricePlan, country string) (*entity.Admin, error)
	ChooseSupportPerson(ctx context.Context) (*entity.Admin, error)
	FindCompanies(ctx context.Context, q entity.CompanyQuery) ([]*entity.Company, error)
}

type BookingServiceImpl struct {
	cfg     config.BookingConfig
	store   entity.Store
	clients ClientFetcher
	creator CompanyCreator
	logger  *zap.Logger
	now     func() time.Time
}

func NewBookingService(cfg *config.Config, store entity.Store, clients ClientFetcher, creator CompanyCreator, logger *zap.Logger) BookingService {
	return &BookingServiceImpl{
		cfg:     cfg.Booking,
		store:   store,
		clients: clients,
		creator: creator,
		logger:  logger.Named("booking"),
		now:     time.Now,
	}
}

func (s *BookingServiceImpl) sign(adminID, companyID, expires int64) string {
	mac := hmac.New(sha256.New, []byte(s.cfg.SigningKey))
	fmt.Fprintf(mac, "%d-%d-%d", adminID, companyID, expires)
	return hex.EncodeToString(mac.Sum(nil))
}

func (s *BookingServiceImpl) GenerateSupportLink(ctx context.Context, systemAAdminID, systemAClientID int64) (*SupportLink, error) {
	found, err := s.store.FindByExternalID(ctx, models.EntityAdmin, models.SystemA, systemAAdminID)
	if err != nil {
		return nil, fmt.Errorf("admin %d: %w", systemAAdminID, err)
	}
	admin := found.(*entity.Admin)

	company, err := s.companyForClient(ctx, systemAClientID)
	if err != nil {
		return nil, err
	}

	link := &SupportLink{
		AdminID:   admin.ID,
		CompanyID: company.ID,
		Expires:   s.now().Add(s.cfg.SupportLinkTTL).Unix(),
	}
	link.Signature = s.sign(link.AdminID, link.CompanyID, link.Expires)
	query := url.Values{
		"s":          {link.Signature},
		"admin_id":   {strconv.FormatInt(link.AdminID, 10)},
		"company_id": {strconv.FormatInt(link.CompanyID, 10)},
		"e":          {strconv.FormatInt(link.Expires, 10)},
	}
	link.Link = fmt.Sprintf("%s/%s?%s", s.cfg.CallBookerURL, url.PathEscape(strings.ToLower(admin.FirstName)), query.Encode())

	s.logger.Info("Support link generated",
		zap.Int64("admin_id", admin.ID),
		zap.Int64("company_id", company.ID),
		zap.Int64("expires", link.Expires))
	return link, nil
}

// companyForClient returns the company of a System A client, fetching the
// client and applying it when the company is not known yet.
func (s *BookingServiceImpl) companyForClient(ctx context.Context, clientID int64) (*entity.Company, error) {
	found, err := s.store.FindByExternalID(ctx, models.EntityCompany, models.SystemA, clientID)
	if err == nil {
		return found.(*entity.Company), nil
	}
	if !errors.Is(err, entity.ErrNotFound) {
		return nil, err
	}

	raw, err := s.clients.Client(ctx, clientID)
	if apiErr, ok := errs.AsExternalAPI(err); ok && apiErr.NotFound() {
		return nil, fmt.Errorf("system A client %d: %w", clientID, entity.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("fetch client %d: %w", clientID, err)
	}
	return s.creator.CreateCompany(ctx, raw)
}

func (s *BookingServiceImpl) ValidateSupportLink(ctx context.Context, adminID, companyID, expires int64, signature string) (*entity.Company, error) {
	if _, err := s.store.GetAdmin(ctx, adminID); err != nil {
		return nil, fmt.Errorf("admin %d: %w", adminID, err)
	}
	company, err := s.store.GetCompany(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("company %d: %w", companyID, err)
	}
	if !hmac.Equal([]byte(s.sign(adminID, companyID, expires)), []byte(signature)) {
		return nil, ErrInvalidSignature
	}
	if s.now().Unix() > expires {
		return nil, ErrLinkExpired
	}
	return company, nil
}

func (s *BookingServiceImpl) ChooseSalesPerson(ctx context.Context, plan entity.PricePlan, country string) (*entity.Admin, error) {
	return entity.ChooseSalesPerson(ctx, s.store, plan, country)
}

func (s *BookingServiceImpl) ChooseSupportPerson(ctx context.Context) (*entity.Admin, error) {
	return entity.ChooseSupportPerson(ctx, s.store)
}

func (s *BookingServiceImpl) FindCompanies(ctx context.Context, q entity.CompanyQuery) ([]*entity.Company, error) {
	if q.Limit <= 0 || q.Limit > 10 {
		q.Limit = 10
	}
	return s.store.ListCompanies(ctx, q)
}
