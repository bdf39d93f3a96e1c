package fieldmap

import (
	"go-hermes/internal/common/models"
	"go-hermes/internal/features/entity"
)

func crm(e models.EntityType, logical, key string, kind Kind) ExternalFieldDescriptor {
	return ExternalFieldDescriptor{System: models.SystemCRM, Entity: e, Logical: logical, Key: key, Kind: kind}
}

func crmCustom(e models.EntityType, logical, key string, kind Kind) ExternalFieldDescriptor {
	d := crm(e, logical, key, kind)
	d.Custom = true
	return d
}

func crmRef(e models.EntityType, logical, key string, target models.EntityType, custom bool) ExternalFieldDescriptor {
	d := crm(e, logical, key, KindRef)
	d.Target, d.Custom = target, custom
	return d
}

func sysA(e models.EntityType, logical, key string, kind Kind) ExternalFieldDescriptor {
	return ExternalFieldDescriptor{System: models.SystemA, Entity: e, Logical: logical, Key: key, Kind: kind}
}

func sysARef(e models.EntityType, logical, key string, target models.EntityType) ExternalFieldDescriptor {
	d := sysA(e, logical, key, KindRef)
	d.Target = target
	return d
}

var (
	company  = models.EntityCompany
	contact  = models.EntityContact
	deal     = models.EntityDeal
	meeting  = models.EntityMeeting
	pipeline = models.EntityPipeline
	stage    = models.EntityStage
	admin    = models.EntityAdmin
)

// defaultDescriptors carries the CRM custom field keys in use on the
// production account.
var defaultDescriptors = []ExternalFieldDescriptor{
	// CRM organization
	crm(company, entity.FieldName, "name", KindString),
	crm(company, entity.FieldCountry, "address_country", KindString),
	crmRef(company, FieldOwner, "owner_id", admin, false),
	crmCustom(company, FieldHermesID, "7f8959760703808f36b3795c15310566b74f5134", KindID),
	crmCustom(company, entity.FieldPaidInvoiceCount, "70527310be44839c869854b055788a69ecbbab66", KindInt),
	crmCustom(company, FieldSystemAURL, "d8b615ce8885544ed228feaae3ce9f28dcf04531", KindString),
	crmCustom(company, entity.FieldStatus, "57170eb130b8fa45925381623c86011e4e598e21", KindString),
	crmCustom(company, entity.FieldWebsite, "770b2fee9c89906b60a74057719509e087342ae9", KindString),
	crmCustom(company, entity.FieldPricePlan, "45f62b0fc120d201ea02fdfa5e7282273add2f20", KindString),
	crmCustom(company, entity.FieldEstimatedIncome, "dbe81f3fdf69ce3dfbfc7609caee68f1654c901a", KindString),
	crmRef(company, FieldSupportPerson, "5ce5a41297410f570d97d78341aa2fbcf5801012", admin, true),
	crmRef(company, FieldBDRPerson, "bdef8d12d2f2af6a61e907b6296e410fdfbef9e3", admin, true),
	crmCustom(company, entity.FieldSignupQuestionnaire, "d4db234b06f753a951c0de94456740f270e0f2ed", KindString),
	crmCustom(company, entity.FieldUTMSource, "d30bf32a173cdfa780901d5eeb92a8f2d1ccd980", KindString),
	crmCustom(company, entity.FieldUTMCampaign, "4be5bf6e60e2a01e2653532e872cd15b5308da23", KindString),
	crmCustom(company, entity.FieldPay0At, "8ca7c3d5c4d2a343ddfbca712606e27ad9714188", KindDate),
	crmCustom(company, entity.FieldPay1At, "291ac593816f0a5ab018f61905274312008c8c9b", KindDate),
	crmCustom(company, entity.FieldPay3At, "cbf504c7cbfad769a3c694de95af60759d6476fc", KindDate),
	crmCustom(company, entity.FieldGclid, "338a35e5195b0d58d3e066cde3b9c45db1a6ac3d", KindString),
	crmCustom(company, entity.FieldGclidExpiryAt, "21685501a4a4fc347f609adcafc9908d774034f9", KindDate),
	crmCustom(company, entity.FieldEmailConfirmedAt, "35d6e7ef145f1966d2a53fe7c02c87efd1455587", KindDate),
	crmCustom(company, entity.FieldCardSavedAt, "90af5597493bd9a2a0637df22fb29038cbb2a2db", KindDate),

	// CRM person
	crm(contact, entity.FieldName, "name", KindString),
	crm(contact, entity.FieldFirstName, "first_name", KindString),
	crm(contact, entity.FieldLastName, "last_name", KindString),
	crm(contact, entity.FieldEmail, "email", KindString),
	crm(contact, entity.FieldPhone, "phone", KindString),
	crmRef(contact, FieldOwner, "owner_id", admin, false),
	crmRef(contact, FieldCompany, "org_id", company, false),
	crmCustom(contact, FieldHermesID, "8c2f326b6be255cd3d5cf4ee7385eaf544a47f1d", KindID),

	// CRM deal
	crm(deal, entity.FieldName, "title", KindString),
	crm(deal, entity.FieldStatus, "status", KindString),
	crmRef(deal, FieldOwner, "user_id", admin, false),
	crmRef(deal, FieldCompany, "org_id", company, false),
	crmRef(deal, FieldContact, "person_id", contact, false),
	crmRef(deal, FieldPipeline, "pipeline_id", pipeline, false),
	crmRef(deal, FieldStage, "stage_id", stage, false),
	crmCustom(deal, FieldHermesID, "5be1188db52a8c7f0ea49331eb391ae54aeabafc", KindID),
	crmRef(deal, FieldSupportPerson, "6911e0b7f9c56a40931381aa0485f705794f6c9f", admin, true),
	crmCustom(deal, FieldSystemAURL, "14256b4f62c1dabb53f3e9516c6cc6e23d3aa0af", KindString),
	crmCustom(deal, entity.FieldSignupQuestionnaire, "1c68afb8974133b7f9d0c30fdbf1d39de2255399", KindString),
	crmCustom(deal, entity.FieldUTMCampaign, "268c0a64eb380daf58f15db7e33ead84d06becfe", KindString),
	crmCustom(deal, entity.FieldUTMSource, "b0cf54987b07634053a9e0910fa5ed3d7431d2bf", KindString),
	crmRef(deal, FieldBDRPerson, "6dbf5b5aeb23eef43b3bba6cf527b575e970b177", admin, true),
	crmCustom(deal, entity.FieldPaidInvoiceCount, "ad43be84de47f5cb80084330956fefc529ba3b00", KindInt),
	crmCustom(deal, FieldCompanyStatus, "8b9629376cb523459fbb8eb947190f2663a146dd", KindString),
	crmCustom(deal, entity.FieldWebsite, "54c7fbdf915c9a8fd73dde335942cc72ebea9b9e", KindString),
	crmCustom(deal, entity.FieldPricePlan, "44da5d07ad9eebd7f778dcdaf3eee6a0ab4b2e5e", KindString),
	crmCustom(deal, entity.FieldEstimatedIncome, "b9276dc6ee42b790c98bffed47b539f25ce3ee1c", KindString),

	// CRM activity
	crm(meeting, FieldSubject, "subject", KindString),
	crm(meeting, FieldDueDate, "due_date", KindString),
	crm(meeting, FieldDueTime, "due_time", KindString),
	crm(meeting, FieldDuration, "duration", KindString),
	crmRef(meeting, FieldAdmin, "user_id", admin, false),
	crmRef(meeting, FieldDeal, "deal_id", deal, false),
	crmRef(meeting, FieldContact, "person_id", contact, false),
	crmRef(meeting, FieldCompany, "org_id", company, false),

	// CRM pipeline and stage
	crm(pipeline, entity.FieldName, "name", KindString),
	crm(pipeline, FieldActive, "active", KindBool),
	crm(stage, entity.FieldName, "name", KindString),
	crm(stage, entity.FieldOrderIndex, "order_nr", KindInt),
	crmRef(stage, FieldPipeline, "pipeline_id", pipeline, false),

	// System A client
	sysA(company, entity.FieldName, "name", KindString),
	sysA(company, entity.FieldStatus, "status", KindString),
	sysA(company, entity.FieldCountry, "country", KindString),
	sysA(company, entity.FieldWebsite, "website", KindString),
	sysA(company, entity.FieldPaidInvoiceCount, "paid_invoice_count", KindInt),
	sysA(company, entity.FieldPricePlan, "price_plan", KindString),
	sysARef(company, FieldOwner, "sales_person", admin),
	sysARef(company, FieldSupportPerson, "associated_admin", admin),
	sysARef(company, FieldBDRPerson, "bdr_person", admin),
	sysA(company, FieldCRMURL, "extra_attrs.pipedrive_url", KindString),
	sysA(company, FieldHermesID, "extra_attrs.hermes_id", KindID),

	// System A has no deal record; deal fields land on the client.
	sysA(deal, FieldPipeline, "extra_attrs.pipedrive_pipeline", KindString),
	sysA(deal, FieldStage, "extra_attrs.pipedrive_stage", KindString),
	sysA(deal, FieldCRMURL, "extra_attrs.pipedrive_deal_url", KindString),
}

// Default returns a fresh table with the built-in mapping.
func Default() *Table {
	return NewTable(defaultDescriptors)
}

// RequiredFields lists what the outbound payload builders cannot work without.
var RequiredFields = map[models.System]map[models.EntityType][]string{
	models.SystemCRM: {
		company: {entity.FieldName, FieldOwner, FieldHermesID},
		contact: {entity.FieldName, FieldCompany, FieldHermesID},
		deal:    {entity.FieldName, FieldCompany, FieldOwner, FieldPipeline, FieldStage, FieldHermesID},
		meeting: {FieldSubject, FieldDueDate, FieldDueTime, FieldAdmin},
	},
	models.SystemA: {
		company: {FieldCRMURL},
		deal:    {FieldPipeline, FieldStage},
	},
}
