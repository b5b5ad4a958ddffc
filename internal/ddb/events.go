// Package ddb decodes DynamoDB stream events carrying image records.
package ddb

import (
	"encoding/json"
	"log/slog"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/letmevibethatforyou/imagesearch"
)

// DynamoDBEvent represents a DynamoDB stream event
type DynamoDBEvent struct {
	Records []DynamoDBEventRecord `json:"Records"`
}

// DynamoDBEventRecord represents a single DynamoDB stream record
type DynamoDBEventRecord struct {
	AWSRegion      string               `json:"awsRegion"`
	Change         DynamoDBStreamRecord `json:"dynamodb"`
	EventID        string               `json:"eventID"`
	EventName      string               `json:"eventName"`
	EventSource    string               `json:"eventSource"`
	EventVersion   string               `json:"eventVersion"`
	EventSourceArn string               `json:"eventSourceARN"`
}

// DynamoDBStreamRecord represents the DynamoDB stream data. Its attribute
// maps arrive as DynamoDB JSON and are decoded by UnmarshalJSON.
type DynamoDBStreamRecord struct {
	ApproximateCreationDateTime int64                           `json:"ApproximateCreationDateTime,omitempty"`
	Keys                        map[string]types.AttributeValue `json:"Keys,omitempty"`
	NewImage                    map[string]types.AttributeValue `json:"NewImage,omitempty"`
	OldImage                    map[string]types.AttributeValue `json:"OldImage,omitempty"`
	SequenceNumber              string                          `json:"SequenceNumber"`
	SizeBytes                   int64                           `json:"SizeBytes"`
	StreamViewType              string                          `json:"StreamViewType"`
}

// UnmarshalJSON decodes the stream record, converting Keys, NewImage and
// OldImage from DynamoDB JSON into AttributeValue maps. An attribute that
// cannot be decoded is dropped so one odd field never fails the batch.
func (r *DynamoDBStreamRecord) UnmarshalJSON(data []byte) error {
	var raw struct {
		ApproximateCreationDateTime int64                      `json:"ApproximateCreationDateTime,omitempty"`
		Keys                        map[string]json.RawMessage `json:"Keys,omitempty"`
		NewImage                    map[string]json.RawMessage `json:"NewImage,omitempty"`
		OldImage                    map[string]json.RawMessage `json:"OldImage,omitempty"`
		SequenceNumber              string                     `json:"SequenceNumber"`
		SizeBytes                   int64                      `json:"SizeBytes"`
		StreamViewType              string                     `json:"StreamViewType"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*r = DynamoDBStreamRecord{
		ApproximateCreationDateTime: raw.ApproximateCreationDateTime,
		Keys:                        decodeImage(raw.Keys),
		NewImage:                    decodeImage(raw.NewImage),
		OldImage:                    decodeImage(raw.OldImage),
		SequenceNumber:              raw.SequenceNumber,
		SizeBytes:                   raw.SizeBytes,
		StreamViewType:              raw.StreamViewType,
	}
	return nil
}

func decodeImage(raw map[string]json.RawMessage) map[string]types.AttributeValue {
	if raw == nil {
		return nil
	}
	m := make(map[string]types.AttributeValue, len(raw))
	for k, v := range raw {
		var av events.DynamoDBAttributeValue
		if err := json.Unmarshal(v, &av); err != nil {
			slog.Warn("Dropping undecodable stream attribute", "attribute", k, "error", err)
			continue
		}
		if converted := AttributeValue(av); converted != nil {
			m[k] = converted
		}
	}
	return m
}

// UnmarshalAttributeValueMap converts a DynamoDB JSON object such as
// {"pk":{"S":"x"}} into an AttributeValue map, dropping attributes it cannot
// decode.
func UnmarshalAttributeValueMap(data []byte) (map[string]types.AttributeValue, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	return decodeImage(raw), nil
}

// AttributeValues converts a Lambda stream image into SDK attribute values.
func AttributeValues(image map[string]events.DynamoDBAttributeValue) map[string]types.AttributeValue {
	if image == nil {
		return nil
	}
	m := make(map[string]types.AttributeValue, len(image))
	for k, v := range image {
		if converted := AttributeValue(v); converted != nil {
			m[k] = converted
		}
	}
	return m
}

// AttributeValue converts a single Lambda stream attribute into its SDK
// equivalent. It returns nil for a type it does not know.
func AttributeValue(av events.DynamoDBAttributeValue) types.AttributeValue {
	switch av.DataType() {
	case events.DataTypeString:
		return &types.AttributeValueMemberS{Value: av.String()}
	case events.DataTypeNumber:
		return &types.AttributeValueMemberN{Value: av.Number()}
	case events.DataTypeBoolean:
		return &types.AttributeValueMemberBOOL{Value: av.Boolean()}
	case events.DataTypeNull:
		return &types.AttributeValueMemberNULL{Value: true}
	case events.DataTypeBinary:
		return &types.AttributeValueMemberB{Value: av.Binary()}
	case events.DataTypeBinarySet:
		return &types.AttributeValueMemberBS{Value: av.BinarySet()}
	case events.DataTypeStringSet:
		return &types.AttributeValueMemberSS{Value: av.StringSet()}
	case events.DataTypeNumberSet:
		return &types.AttributeValueMemberNS{Value: av.NumberSet()}
	case events.DataTypeMap:
		return &types.AttributeValueMemberM{Value: AttributeValues(av.Map())}
	case events.DataTypeList:
		list := make([]types.AttributeValue, 0, len(av.List()))
		for _, item := range av.List() {
			if converted := AttributeValue(item); converted != nil {
				list = append(list, converted)
			}
		}
		return &types.AttributeValueMemberL{Value: list}
	default:
		return nil
	}
}

// DynamoDBOperationType represents the type of DynamoDB operation
type DynamoDBOperationType string

const (
	DynamoDBOperationTypeInsert DynamoDBOperationType = "INSERT"
	DynamoDBOperationTypeModify DynamoDBOperationType = "MODIFY"
	DynamoDBOperationTypeRemove DynamoDBOperationType = "REMOVE"
)

// Record is an image stored in the table. The sort key names the search
// index the image belongs to.
type Record struct {
	ID        string            `dynamodbav:"pk"`
	IndexName string            `dynamodbav:"sk"`
	Image     imagesearch.Image `dynamodbav:"object"`
}

// UnmarshalRecord converts a DynamoDB NewImage into a Record struct
func UnmarshalRecord(newImage map[string]types.AttributeValue) (Record, error) {
	var record Record
	err := attributevalue.UnmarshalMap(newImage, &record)
	if err != nil {
		return Record{}, err
	}
	return record, nil
}

// MarshalRecord converts a Record into a DynamoDB item.
func MarshalRecord(record Record) (map[string]types.AttributeValue, error) {
	return attributevalue.MarshalMap(record)
}
