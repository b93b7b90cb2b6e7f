package queue

import "fmt"

// StorageError reports that the durable store was unavailable or rejected an operation.
type StorageError struct {
	Op        string
	Container string
	Err       error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("queue store %s %s: %v", e.Op, e.Container, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func storageErr(op, container string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Container: container, Err: err}
}

// SerializationError reports a payload that could not be encoded or decoded.
type SerializationError struct {
	What string
	Err  error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("serialize %s: %v", e.What, e.Err)
}

func (e *SerializationError) Unwrap() error {
	return e.Err
}
