package booking

import (
	"errors"
	"strconv"

	"go-hermes/internal/features/entity"

	"github.com/gofiber/fiber/v2"
)

type BookingController struct {
	Service BookingService
}

func NewBookingController(service BookingService) *BookingController {
	return &BookingController{
		Service: service,
	}
}

func queryID(c *fiber.Ctx, key string) (int64, bool) {
	id, err := strconv.ParseInt(c.Query(key), 10, 64)
	return id, err == nil && id > 0
}

func failure(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"status":  "error",
		"message": message,
	})
}

// GenerateSupportLink signs a support call link for a System A client.
// GET /callbooker/support-link/generate/systema?system_a_admin_id=1&system_a_client_id=2
func (ctrl *BookingController) GenerateSupportLink(c *fiber.Ctx) error {
	adminID, ok := queryID(c, "system_a_admin_id")
	if !ok {
		return failure(c, fiber.StatusUnprocessableEntity, "system_a_admin_id is required")
	}
	clientID, ok := queryID(c, "system_a_client_id")
	if !ok {
		return failure(c, fiber.StatusUnprocessableEntity, "system_a_client_id is required")
	}

	link, err := ctrl.Service.GenerateSupportLink(c.UserContext(), adminID, clientID)
	if errors.Is(err, entity.ErrNotFound) {
		return failure(c, fiber.StatusNotFound, err.Error())
	}
	if err != nil {
		return failure(c, fiber.StatusInternalServerError, err.Error())
	}
	return c.JSON(link)
}

// ValidateSupportLink checks a link opened on the call booker.
// GET /callbooker/support-link/validate?admin_id=1&company_id=2&e=1700000000&s=...
func (ctrl *BookingController) ValidateSupportLink(c *fiber.Ctx) error {
	adminID, okAdmin := queryID(c, "admin_id")
	companyID, okCompany := queryID(c, "company_id")
	expires, okExpires := queryID(c, "e")
	if !okAdmin || !okCompany || !okExpires || c.Query("s") == "" {
		return failure(c, fiber.StatusUnprocessableEntity, "admin_id, company_id, e and s are required")
	}

	company, err := ctrl.Service.ValidateSupportLink(c.UserContext(), adminID, companyID, expires, c.Query("s"))
	switch {
	case errors.Is(err, ErrInvalidSignature), errors.Is(err, ErrLinkExpired):
		return failure(c, fiber.StatusForbidden, err.Error())
	case errors.Is(err, entity.ErrNotFound):
		return failure(c, fiber.StatusNotFound, err.Error())
	case err != nil:
		return failure(c, fiber.StatusInternalServerError, err.Error())
	}
	return c.JSON(fiber.Map{
		"status":       "ok",
		"company_name": company.Name,
	})
}

// ChooseSalesPerson names the sales admin a new company on a plan would get.
// GET /choose-roundrobin/sales?plan=payg&country_code=GB
func (ctrl *BookingController) ChooseSalesPerson(c *fiber.Ctx) error {
	plan, ok := entity.ParsePricePlan(c.Query("plan"))
	if !ok {
		return failure(c, fiber.StatusUnprocessableEntity, `plan must be one of "payg", "startup", "enterprise"`)
	}
	admin, err := ctrl.Service.ChooseSalesPerson(c.UserContext(), plan, c.Query("country_code"))
	return ctrl.admin(c, admin, err)
}

// ChooseSupportPerson names the support admin a new company would get.
// GET /choose-roundrobin/support
func (ctrl *BookingController) ChooseSupportPerson(c *fiber.Ctx) error {
	admin, err := ctrl.Service.ChooseSupportPerson(c.UserContext())
	return ctrl.admin(c, admin, err)
}

func (ctrl *BookingController) admin(c *fiber.Ctx, admin *entity.Admin, err error) error {
	if errors.Is(err, entity.ErrNoAdmin) {
		return failure(c, fiber.StatusNotFound, err.Error())
	}
	if err != nil {
		return failure(c, fiber.StatusInternalServerError, err.Error())
	}
	return c.JSON(fiber.Map{
		"id":                admin.ID,
		"first_name":        admin.FirstName,
		"last_name":         admin.LastName,
		"email":             admin.Email,
		"system_a_admin_id": admin.SystemAAdminID,
		"crm_owner_id":      admin.CRMOwnerID,
	})
}

// FindCompanies returns up to ten companies matching every given filter.
// GET /api/companies?name=Acme&country=GB&price_plan=payg&system_a_id=1&crm_org_id=2
func (ctrl *BookingController) FindCompanies(c *fiber.Ctx) error {
	q := entity.CompanyQuery{
		Name:      c.Query("name"),
		Country:   c.Query("country"),
		SystemAID: int64(c.QueryInt("system_a_id")),
		CRMOrgID:  int64(c.QueryInt("crm_org_id")),
		Limit:     c.QueryInt("limit", 10),
	}
	if raw := c.Query("price_plan"); raw != "" {
		plan, ok := entity.ParsePricePlan(raw)
		if !ok {
			return failure(c, fiber.StatusUnprocessableEntity, "unknown price_plan")
		}
		q.PricePlan = plan
	}
	if q.Name == "" && q.Country == "" && q.PricePlan == "" && q.SystemAID == 0 && q.CRMOrgID == 0 {
		return failure(c, fiber.StatusUnprocessableEntity, "at least one filter is required")
	}

	companies, err := ctrl.Service.FindCompanies(c.UserContext(), q)
	if err != nil {
		return failure(c, fiber.StatusInternalServerError, err.Error())
	}
	return c.JSON(fiber.Map{
		"data": companies,
	})
}
