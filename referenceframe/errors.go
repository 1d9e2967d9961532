package referenceframe

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrNoModelInformation is used when there is no model information.
var ErrNoModelInformation = errors.New("no model information")

// NewUnsupportedJointTypeError returns an error indicating that a given joint type is not supported.
func NewUnsupportedJointTypeError(jointType string) error {
	return fmt.Errorf("unsupported joint type detected: %q", jointType)
}

// NewDuplicateNameError returns an error indicating that a link or joint name is used twice.
func NewDuplicateNameError(kind, name string) error {
	return fmt.Errorf("duplicate %s name %q", kind, name)
}

// NewUnknownParentError returns an error indicating that a joint references a link that does not exist.
func NewUnknownParentError(joint, link string) error {
	return fmt.Errorf("joint %q references unknown link %q", joint, link)
}
