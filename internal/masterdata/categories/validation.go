package categories

import (
	"strings"

	"github.com/assetdesk/assetdesk/internal/shared"
)

func (s *Service) validate(in Input) (Input, error) {
	in.Code = strings.ToUpper(strings.TrimSpace(in.Code))
	in.Name = strings.TrimSpace(in.Name)
	in.Description = strings.TrimSpace(in.Description)
	if err := shared.ValidateStruct(in); err != nil {
		return Input{}, err
	}
	return in, nil
}
