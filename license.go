package imagesearch

// PublicDomainLicenses lists the license names treated as public domain.
var PublicDomainLicenses = []string{
	"Public Domain",
	"No known copyright restrictions",
	"Public Domain Dedication",
	"US Government Work",
}

// IsPublicDomain reports whether license exactly matches one of
// PublicDomainLicenses.
func IsPublicDomain(license string) bool {
	for _, l := range PublicDomainLicenses {
		if l == license {
			return true
		}
	}
	return false
}

// PublicDomainFilter returns an expression matching public-domain images.
func PublicDomainFilter() Expression {
	exprs := make([]Expression, 0, len(PublicDomainLicenses))
	for _, l := range PublicDomainLicenses {
		exprs = append(exprs, Eq(FieldLicense, l))
	}
	return Or(exprs...)
}

// FilterPublicDomain returns the public-domain images of items, preserving
// order.
func FilterPublicDomain(items []Image) []Image {
	out := make([]Image, 0, len(items))
	for _, img := range items {
		if IsPublicDomain(img.License) {
			out = append(out, img)
		}
	}
	return out
}
