package models

type ClassificationUpdate struct {
	Key RecordKey
	Classification
}
