package entity

import (
	"context"
	"errors"
	"strings"
)

// ErrNoAdmin is returned when no admin can take a new company.
var ErrNoAdmin = errors.New("no admin available")

var euCountries = map[string]bool{
	"AD": true, "AL": true, "AT": true, "AX": true, "BA": true, "BE": true, "BG": true, "BY": true,
	"CH": true, "CY": true, "CZ": true, "DE": true, "DK": true, "EE": true, "ES": true, "FI": true,
	"FO": true, "FR": true, "GB": true, "GG": true, "GI": true, "GR": true, "HR": true, "HU": true,
	"IE": true, "IM": true, "IS": true, "IT": true, "JE": true, "LI": true, "LT": true, "LU": true,
	"LV": true, "MC": true, "MD": true, "ME": true, "MK": true, "MT": true, "NL": true, "NO": true,
	"PL": true, "PT": true, "RO": true, "RS": true, "RU": true, "SE": true, "SI": true, "SJ": true,
	"SK": true, "SM": true, "UA": true, "VA": true, "XK": true,
}

// ParsePricePlan accepts the plan names used on the wire.
func ParsePricePlan(s string) (PricePlan, bool) {
	switch p := PricePlan(strings.ToLower(strings.TrimSpace(s))); p {
	case PricePlanPAYG, PricePlanStartup, PricePlanEnterprise:
		return p, true
	}
	return "", false
}

func (a *Admin) SellsPlan(plan PricePlan) bool {
	switch plan {
	case PricePlanStartup:
		return a.SellsStartup
	case PricePlanEnterprise:
		return a.SellsEnterprise
	}
	return a.SellsPAYG
}

// SellsRegion reports whether the admin covers a country. An empty country
// counts as GB.
func (a *Admin) SellsRegion(country string) bool {
	switch country = strings.ToUpper(country); country {
	case "", "GB":
		return a.SellsGB
	case "US":
		return a.SellsUS
	case "AU":
		return a.SellsAU
	case "CA":
		return a.SellsCA
	}
	if euCountries[country] {
		return a.SellsEU
	}
	return a.SellsROW
}

// ChooseSalesPerson picks the sales admin for a new company on plan. Admins
// selling the plan take turns in id order, starting after the sales person of
// the newest company on the same plan. Admins covering the country are
// preferred when there are any.
func ChooseSalesPerson(ctx context.Context, repo Repository, plan PricePlan, country string) (*Admin, error) {
	admins, err := repo.ListAdmins(ctx)
	if err != nil {
		return nil, err
	}
	var sellers, regional []*Admin
	for _, a := range admins {
		if !a.IsSales || !a.SellsPlan(plan) {
			continue
		}
		sellers = append(sellers, a)
		if a.SellsRegion(country) {
			regional = append(regional, a)
		}
	}
	if len(regional) > 0 {
		sellers = regional
	}

	latest, err := repo.ListCompanies(ctx, CompanyQuery{PricePlan: plan, HasSalesPerson: true, Newest: true, Limit: 1})
	if err != nil {
		return nil, err
	}
	var last int64
	if len(latest) > 0 {
		last = latest[0].SalesPersonID
	}
	return nextAfter(sellers, last)
}

// ChooseSupportPerson picks the support admin for a new company, in turn
// after the support person of the newest company that has one.
func ChooseSupportPerson(ctx context.Context, repo Repository) (*Admin, error) {
	admins, err := repo.ListAdmins(ctx)
	if err != nil {
		return nil, err
	}
	var support []*Admin
	for _, a := range admins {
		if a.IsSupport {
			support = append(support, a)
		}
	}

	latest, err := repo.ListCompanies(ctx, CompanyQuery{HasSupportPerson: true, Newest: true, Limit: 1})
	if err != nil {
		return nil, err
	}
	var last int64
	if len(latest) > 0 {
		last = latest[0].SupportPersonID
	}
	return nextAfter(support, last)
}

// nextAfter returns the admin following last in admins, which are in id
// order, wrapping round to the first.
func nextAfter(admins []*Admin, last int64) (*Admin, error) {
	if len(admins) == 0 {
		return nil, ErrNoAdmin
	}
	for i, a := range admins {
		if a.ID == last && i+1 < len(admins) {
			return admins[i+1], nil
		}
	}
	return admins[0], nil
}
