package metadata

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
	"github.com/smartclm/clm/internal/models"
)

// Typed views over extracted_info. The extraction process writes Korean keys;
// unknown keys are ignored and missing ones stay zero.

type ContractAmount struct {
	Amount       string `mapstructure:"금액" json:"금액" yaml:"금액,omitempty"`
	PaymentTerms string `mapstructure:"지급조건" json:"지급조건" yaml:"지급조건,omitempty"`
}

type ContractInfo struct {
	Parties      []string         `mapstructure:"계약당사자" json:"계약당사자" yaml:"계약당사자,omitempty"`
	Purpose      string           `mapstructure:"계약목적" json:"계약목적" yaml:"계약목적,omitempty"`
	Amount       ContractAmount   `mapstructure:"계약금액" json:"계약금액" yaml:"계약금액,omitempty"`
	Period       string           `mapstructure:"계약기간" json:"계약기간" yaml:"계약기간,omitempty"`
	ToxicClauses []map[string]any `mapstructure:"독소조항" json:"독소조항" yaml:"독소조항,omitempty"`
}

type LawInfo struct {
	Name          string   `mapstructure:"법령명" json:"법령명" yaml:"법령명,omitempty"`
	Ministry      string   `mapstructure:"소관부처" json:"소관부처" yaml:"소관부처,omitempty"`
	EffectiveDate string   `mapstructure:"시행일" json:"시행일" yaml:"시행일,omitempty"`
	KeyArticles   []string `mapstructure:"주요조문" json:"주요조문" yaml:"주요조문,omitempty"`
}

type CaseInfo struct {
	CaseNumber string `mapstructure:"사건번호" json:"사건번호" yaml:"사건번호,omitempty"`
	Court      string `mapstructure:"법원" json:"법원" yaml:"법원,omitempty"`
	DecidedAt  string `mapstructure:"선고일" json:"선고일" yaml:"선고일,omitempty"`
	Holding    string `mapstructure:"판결요지" json:"판결요지" yaml:"판결요지,omitempty"`
}

type GuidelineInfo struct {
	Issuer  string `mapstructure:"발행기관" json:"발행기관" yaml:"발행기관,omitempty"`
	Subject string `mapstructure:"주제" json:"주제" yaml:"주제,omitempty"`
}

// DecodeExtracted decodes extracted_info into out, a pointer to a struct.
// Scalars are converted loosely (numbers to strings and back).
func DecodeExtracted(info map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(info); err != nil {
		return fmt.Errorf("%w: %v", models.ErrMalformedMetadata, err)
	}
	return nil
}

// ExtractedView decodes extracted_info into the typed view for the metadata's
// document type. Types without a view return the raw map.
func ExtractedView(md models.Metadata) (any, error) {
	var out any
	switch md.Type {
	case models.TypeContract, models.TypeStandardContract:
		out = &ContractInfo{}
	case models.TypeLaw:
		out = &LawInfo{}
	case models.TypeLegalCase:
		out = &CaseInfo{}
	case models.TypeGuideline:
		out = &GuidelineInfo{}
	default:
		return md.ExtractedInfo, nil
	}
	if err := DecodeExtracted(md.ExtractedInfo, out); err != nil {
		return nil, err
	}
	return out, nil
}
