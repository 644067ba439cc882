package enums

import "fmt"

// ListingCategory distinguishes stocked goods from unlimited downloads.
type ListingCategory string

const (
	ListingCategoryDiscrete  ListingCategory = "discrete"
	ListingCategoryUnlimited ListingCategory = "unlimited"
)

var validListingCategories = []ListingCategory{
	ListingCategoryDiscrete,
	ListingCategoryUnlimited,
}

func (c ListingCategory) String() string {
	return string(c)
}

func (c ListingCategory) IsValid() bool {
	for _, candidate := range validListingCategories {
		if candidate == c {
			return true
		}
	}
	return false
}

// ParseListingCategory converts raw input into a ListingCategory.
func ParseListingCategory(value string) (ListingCategory, error) {
	for _, candidate := range validListingCategories {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid listing category %q", value)
}

// ListingStatus tracks moderation state of a listing.
type ListingStatus string

const (
	ListingStatusDraft           ListingStatus = "draft"
	ListingStatusPendingApproval ListingStatus = "pending_approval"
	ListingStatusActive          ListingStatus = "active"
	ListingStatusDisabled        ListingStatus = "disabled"
)

var validListingStatuses = []ListingStatus{
	ListingStatusDraft,
	ListingStatusPendingApproval,
	ListingStatusActive,
	ListingStatusDisabled,
}

func (s ListingStatus) String() string {
	return string(s)
}

func (s ListingStatus) IsValid() bool {
	for _, candidate := range validListingStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseListingStatus converts raw input into a ListingStatus.
func ParseListingStatus(value string) (ListingStatus, error) {
	for _, candidate := range validListingStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid listing status %q", value)
}
