package domain

// SendCategory описывает категорию рассылки.
type SendCategory string

const (
	SendCategoryRevenue    SendCategory = "revenue"
	SendCategoryEngagement SendCategory = "engagement"
	SendCategoryRetention  SendCategory = "retention"
)

// SendType — статическая конфигурация варианта рассылки.
type SendType struct {
	ID              string
	Category        SendCategory
	NeedsMedia      bool
	NeedsPrice      bool
	NeedsFlyer      bool
	NeedsLink       bool
	MaxPerDay       int
	MaxPerWeek      int
	MinHoursBetween int
	Expires         bool
	FollowUpAllowed bool
}

var sendTypes = map[string]SendType{
	"ppv_unlock":        {ID: "ppv_unlock", Category: SendCategoryRevenue, NeedsMedia: true, NeedsPrice: true, MaxPerDay: 3, MaxPerWeek: 15, MinHoursBetween: 3, Expires: true, FollowUpAllowed: true},
	"ppv_bundle":        {ID: "ppv_bundle", Category: SendCategoryRevenue, NeedsMedia: true, NeedsPrice: true, MaxPerDay: 1, MaxPerWeek: 4, MinHoursBetween: 12, Expires: true, FollowUpAllowed: true},
	"ppv_followup":      {ID: "ppv_followup", Category: SendCategoryRevenue, NeedsPrice: true, MaxPerDay: 2, MaxPerWeek: 10, MinHoursBetween: 6},
	"tip_campaign":      {ID: "tip_campaign", Category: SendCategoryRevenue, NeedsFlyer: true, MaxPerDay: 1, MaxPerWeek: 3, MinHoursBetween: 24, Expires: true},
	"custom_offer":      {ID: "custom_offer", Category: SendCategoryRevenue, NeedsPrice: true, MaxPerDay: 1, MaxPerWeek: 2, MinHoursBetween: 24, FollowUpAllowed: true},
	"flash_sale":        {ID: "flash_sale", Category: SendCategoryRevenue, NeedsMedia: true, NeedsPrice: true, MaxPerDay: 1, MaxPerWeek: 2, MinHoursBetween: 48, Expires: true},
	"vip_upsell":        {ID: "vip_upsell", Category: SendCategoryRevenue, NeedsLink: true, MaxPerDay: 1, MaxPerWeek: 2, MinHoursBetween: 48},
	"game_night":        {ID: "game_night", Category: SendCategoryRevenue, NeedsFlyer: true, MaxPerDay: 1, MaxPerWeek: 1, MinHoursBetween: 72, Expires: true},
	"bundle_discount":   {ID: "bundle_discount", Category: SendCategoryRevenue, NeedsMedia: true, NeedsPrice: true, MaxPerDay: 1, MaxPerWeek: 2, MinHoursBetween: 48, Expires: true},
	"morning_check_in":  {ID: "morning_check_in", Category: SendCategoryEngagement, MaxPerDay: 1, MaxPerWeek: 7, MinHoursBetween: 20},
	"evening_check_in":  {ID: "evening_check_in", Category: SendCategoryEngagement, MaxPerDay: 1, MaxPerWeek: 7, MinHoursBetween: 20},
	"poll_question":     {ID: "poll_question", Category: SendCategoryEngagement, MaxPerDay: 1, MaxPerWeek: 3, MinHoursBetween: 24},
	"teaser_drop":       {ID: "teaser_drop", Category: SendCategoryEngagement, NeedsMedia: true, MaxPerDay: 2, MaxPerWeek: 10, MinHoursBetween: 6},
	"story_share":       {ID: "story_share", Category: SendCategoryEngagement, NeedsMedia: true, MaxPerDay: 1, MaxPerWeek: 5, MinHoursBetween: 24},
	"banter_open":       {ID: "banter_open", Category: SendCategoryEngagement, MaxPerDay: 2, MaxPerWeek: 10, MinHoursBetween: 8},
	"behind_scenes":     {ID: "behind_scenes", Category: SendCategoryEngagement, NeedsMedia: true, MaxPerDay: 1, MaxPerWeek: 3, MinHoursBetween: 24},
	"renew_reminder":    {ID: "renew_reminder", Category: SendCategoryRetention, NeedsLink: true, MaxPerDay: 1, MaxPerWeek: 2, MinHoursBetween: 72},
	"winback_expired":   {ID: "winback_expired", Category: SendCategoryRetention, NeedsLink: true, MaxPerDay: 1, MaxPerWeek: 2, MinHoursBetween: 72},
	"loyalty_thanks":    {ID: "loyalty_thanks", Category: SendCategoryRetention, MaxPerDay: 1, MaxPerWeek: 1, MinHoursBetween: 96},
	"trial_conversion":  {ID: "trial_conversion", Category: SendCategoryRetention, NeedsPrice: true, NeedsLink: true, MaxPerDay: 1, MaxPerWeek: 2, MinHoursBetween: 72, FollowUpAllowed: true},
	"anniversary_offer": {ID: "anniversary_offer", Category: SendCategoryRetention, NeedsPrice: true, MaxPerDay: 1, MaxPerWeek: 1, MinHoursBetween: 96, Expires: true},
}

// SendTypeByID возвращает вариант рассылки по идентификатору.
func SendTypeByID(id string) (SendType, bool) {
	st, ok := sendTypes[id]
	return st, ok
}

// SendTypesByCategory возвращает все варианты рассылки категории.
func SendTypesByCategory(category SendCategory) []SendType {
	var out []SendType
	for _, st := range sendTypes {
		if st.Category == category {
			out = append(out, st)
		}
	}
	return out
}

// CaptionRequirement задаёт допустимый тип подписи для варианта рассылки.
// Priority 1 — лучший матч, 5 — запасной.
type CaptionRequirement struct {
	SendTypeID  string
	CaptionType string
	Priority    int
}

var captionRequirements = map[string][]CaptionRequirement{
	"ppv_unlock":        {{SendTypeID: "ppv_unlock", CaptionType: "ppv", Priority: 1}, {SendTypeID: "ppv_unlock", CaptionType: "sexting", Priority: 2}, {SendTypeID: "ppv_unlock", CaptionType: "teaser", Priority: 3}},
	"ppv_bundle":        {{SendTypeID: "ppv_bundle", CaptionType: "bundle", Priority: 1}, {SendTypeID: "ppv_bundle", CaptionType: "ppv", Priority: 2}},
	"ppv_followup":      {{SendTypeID: "ppv_followup", CaptionType: "followup", Priority: 1}, {SendTypeID: "ppv_followup", CaptionType: "ppv", Priority: 3}},
	"tip_campaign":      {{SendTypeID: "tip_campaign", CaptionType: "tip", Priority: 1}, {SendTypeID: "tip_campaign", CaptionType: "flirty", Priority: 4}},
	"custom_offer":      {{SendTypeID: "custom_offer", CaptionType: "custom", Priority: 1}, {SendTypeID: "custom_offer", CaptionType: "ppv", Priority: 3}},
	"flash_sale":        {{SendTypeID: "flash_sale", CaptionType: "sale", Priority: 1}, {SendTypeID: "flash_sale", CaptionType: "ppv", Priority: 2}},
	"vip_upsell":        {{SendTypeID: "vip_upsell", CaptionType: "vip", Priority: 1}, {SendTypeID: "vip_upsell", CaptionType: "flirty", Priority: 5}},
	"game_night":        {{SendTypeID: "game_night", CaptionType: "game", Priority: 1}, {SendTypeID: "game_night", CaptionType: "flirty", Priority: 3}},
	"bundle_discount":   {{SendTypeID: "bundle_discount", CaptionType: "bundle", Priority: 1}, {SendTypeID: "bundle_discount", CaptionType: "sale", Priority: 2}},
	"morning_check_in":  {{SendTypeID: "morning_check_in", CaptionType: "greeting", Priority: 1}, {SendTypeID: "morning_check_in", CaptionType: "flirty", Priority: 2}},
	"evening_check_in":  {{SendTypeID: "evening_check_in", CaptionType: "greeting", Priority: 1}, {SendTypeID: "evening_check_in", CaptionType: "sexting", Priority: 3}},
	"poll_question":     {{SendTypeID: "poll_question", CaptionType: "question", Priority: 1}, {SendTypeID: "poll_question", CaptionType: "banter", Priority: 2}},
	"teaser_drop":       {{SendTypeID: "teaser_drop", CaptionType: "teaser", Priority: 1}, {SendTypeID: "teaser_drop", CaptionType: "flirty", Priority: 3}},
	"story_share":       {{SendTypeID: "story_share", CaptionType: "story", Priority: 1}, {SendTypeID: "story_share", CaptionType: "teaser", Priority: 3}},
	"banter_open":       {{SendTypeID: "banter_open", CaptionType: "banter", Priority: 1}, {SendTypeID: "banter_open", CaptionType: "question", Priority: 2}},
	"behind_scenes":     {{SendTypeID: "behind_scenes", CaptionType: "story", Priority: 1}, {SendTypeID: "behind_scenes", CaptionType: "teaser", Priority: 2}},
	"renew_reminder":    {{SendTypeID: "renew_reminder", CaptionType: "renew", Priority: 1}, {SendTypeID: "renew_reminder", CaptionType: "loyalty", Priority: 3}},
	"winback_expired":   {{SendTypeID: "winback_expired", CaptionType: "winback", Priority: 1}, {SendTypeID: "winback_expired", CaptionType: "renew", Priority: 2}},
	"loyalty_thanks":    {{SendTypeID: "loyalty_thanks", CaptionType: "loyalty", Priority: 1}, {SendTypeID: "loyalty_thanks", CaptionType: "greeting", Priority: 4}},
	"trial_conversion":  {{SendTypeID: "trial_conversion", CaptionType: "trial", Priority: 1}, {SendTypeID: "trial_conversion", CaptionType: "renew", Priority: 2}},
	"anniversary_offer": {{SendTypeID: "anniversary_offer", CaptionType: "loyalty", Priority: 1}, {SendTypeID: "anniversary_offer", CaptionType: "custom", Priority: 2}},
}

// RequirementsForSendType возвращает ранжированные типы подписей для варианта
// рассылки, отсортированные по приоритету.
func RequirementsForSendType(sendTypeID string) []CaptionRequirement {
	return captionRequirements[sendTypeID]
}

// CategoryMultiplier возвращает статический множитель категории контента.
func CategoryMultiplier(category ContentCategory) float64 {
	switch category {
	case ContentCategorySoftcore:
		return 1.5
	case ContentCategoryAmateur:
		return 2.0
	case ContentCategoryExplicit:
		return 2.67
	default:
		return 1.0
	}
}

// TriggerMultiplier возвращает множитель для типа триггера.
func TriggerMultiplier(t TriggerType) float64 {
	switch t {
	case TriggerHighPerformer:
		return 1.20
	case TriggerTrendingUp:
		return 1.10
	case TriggerEmergingWinner:
		return 1.30
	case TriggerSaturating:
		return 0.85
	case TriggerAudienceFatigue:
		return 0.75
	default:
		return 1.0
	}
}
